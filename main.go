package main

import "github.com/ValentinKolb/mcmw/cmd"

func main() {
	cmd.Execute()
}
