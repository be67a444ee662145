package main

import "github.com/dbsmedya/esload/cmd/esload/cmd"

func main() {
	cmd.Execute()
}
