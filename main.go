/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/prodapi/userserver/cmd"

func main() {
	cmd.Execute()
}
