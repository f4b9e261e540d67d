package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Origin           string   `yaml:"origin"`
	Hosts            []string `yaml:"hosts"`
	APIPrefix        string   `yaml:"apiPrefix"`
	StaticGeneration string   `yaml:"staticGeneration"`
	DataGeneration   string   `yaml:"dataGeneration"`
	Precache         []string `yaml:"precache"`
	OfflineFallback  string   `yaml:"offlineFallback"`
	MockEndpoint     string   `yaml:"mockEndpoint"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
