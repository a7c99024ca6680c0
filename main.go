package main

import "patientbot/internal/app"

func main() {
	app.Main()
}
