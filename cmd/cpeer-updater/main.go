package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/updater/cmd/cpeer-updater/app"
)

func main() {
	app.NewApp().Run()
}
