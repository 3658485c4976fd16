package config

import _ "embed"

//go:embed config.example.json
var ExampleConfig []byte
