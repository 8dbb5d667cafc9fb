package types

// Frame is one raster grabbed from the video surface at native resolution.
type Frame struct {
	Data   []byte  // JPEG bytes
	Width  int     // pixels, 0 when unknown
	Height int     // pixels, 0 when unknown
	Time   float64 // playback time the frame was grabbed at, in seconds
}

// ErrorResult captures the error object a detector process may print on stderr at startup.
type ErrorResult struct {
	Error string `json:"error"`
}
