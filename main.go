package main

import "github.com/ValentinKolb/dHammer/cmd"

func main() {
	cmd.Execute()
}
