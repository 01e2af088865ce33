package main

import (
	"fmt"
	"os"

	"github.com/common-nighthawk/go-figure"

	"invento/internal/app"
)

const appname = "invento"

// @title           Invento API
// @version         1.0
// @description     Authentication and session security for the Invento inventory backend.
// @BasePath        /api
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
func main() {
	figure.NewFigure(appname, "cybermedium", true).Print()
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
