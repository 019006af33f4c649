package main

import "github.com/apk-analysis/apk-libdetector/internal/cli"

func main() {
	cli.Execute()
}
