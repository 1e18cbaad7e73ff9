package main

import (
	"github.com/happydotemdr/hookrelay/internal/app"
	"github.com/happydotemdr/hookrelay/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewApp().Run()
}
