package main

import "github.com/andresmejia3/jointscope/cmd"

func main() {
	cmd.Execute()
}
