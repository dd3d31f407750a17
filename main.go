package main

import (
	"log"

	_ "task-router/docs"
	"task-router/internal/app"
)

// @title Task Router API
// @version 1.0
// @description Routes trigger events to action events through configurable tasks.
// @BasePath /
func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
