// Package config provides configuration loading and validation for
// ragflow services.
//
// It uses Viper to load configuration from a YAML file, layers
// environment variables (optionally from a .env file via godotenv) on
// top, and unmarshals the result into a typed config struct that embeds
// ServiceConfig.
package config
