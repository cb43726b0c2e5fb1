package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
)

type DB struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"password"`
	Name string `yaml:"database"`
}

type MQ struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"password"`
}

type HTTP struct {
	Port int `yaml:"port"`
}

// Assistant tunes the conversation engine itself: per-call deadline, the
// catalog read-cache TTL and how long an untouched cart stays active.
type Assistant struct {
	CallTimeoutSeconds     int `yaml:"call_timeout_seconds"`
	CatalogCacheTTLSeconds int `yaml:"catalog_cache_ttl_seconds"`
	CartTTLHours           int `yaml:"cart_ttl_hours"`
}

type App struct {
	Database  DB        `yaml:"database"`
	Rabbit    MQ        `yaml:"rabbitmq"`
	HTTP      HTTP      `yaml:"http"`
	Assistant Assistant `yaml:"assistant"`
}

// simple two-level YAML reader, no external packages
func Load(path string) (App, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return App{}, err
	}
	a := defaults()
	var cur string
	for _, ln := range strings.Split(string(b), "\n") {
		line := strings.TrimSpace(ln)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, ":") {
			cur = strings.TrimSuffix(line, ":")
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		k := strings.TrimSpace(parts[0])
		v := strings.Trim(strings.TrimSpace(parts[1]), "\"")
		switch cur {
		case "database":
			assignDB(&a.Database, k, v)
		case "rabbitmq":
			assignMQ(&a.Rabbit, k, v)
		case "http":
			if k == "port" {
				a.HTTP.Port = atoiSafe(v)
			}
		case "assistant":
			assignAssistant(&a.Assistant, k, v)
		}
	}
	if a.Database.Host == "" || a.Rabbit.Host == "" {
		return App{}, errors.New("invalid config: missing database/rabbitmq host")
	}
	return a, nil
}

func defaults() App {
	return App{
		HTTP: HTTP{Port: 3000},
		Assistant: Assistant{
			CallTimeoutSeconds:     5,
			CatalogCacheTTLSeconds: 60,
			CartTTLHours:           2,
		},
	}
}

func assignDB(d *DB, k, v string) {
	switch k {
	case "host":
		d.Host = v
	case "port":
		d.Port = atoiSafe(v)
	case "user":
		d.User = v
	case "password":
		d.Pass = v
	case "database":
		d.Name = v
	}
}

func assignMQ(m *MQ, k, v string) {
	switch k {
	case "host":
		m.Host = v
	case "port":
		m.Port = atoiSafe(v)
	case "user":
		m.User = v
	case "password":
		m.Pass = v
	}
}

func assignAssistant(a *Assistant, k, v string) {
	switch k {
	case "call_timeout_seconds":
		a.CallTimeoutSeconds = atoiSafe(v)
	case "catalog_cache_ttl_seconds":
		a.CatalogCacheTTLSeconds = atoiSafe(v)
	case "cart_ttl_hours":
		a.CartTTLHours = atoiSafe(v)
	}
}

func atoiSafe(s string) int {
	var n int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
		}
	}
	return n
}

func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}
