// Package main is the entry point for the newsflow worker.
package main

import (
	"github.com/kart-io/newsflow/cmd/newsflow-worker/app"
)

func main() {
	app.NewApp().Run()
}
