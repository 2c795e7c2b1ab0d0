package vault

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yangjarod117/webssh/internal/logutil"
)

// importFile is the on-disk layout accepted by ImportConnections:
//
//	connections:
//	  - id: web-1
//	    name: Web server
//	    host: 10.0.0.5
//	    port: 22
//	    username: deploy
//	    auth_type: key
type importFile struct {
	Connections []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		AuthType string `yaml:"auth_type"`
	} `yaml:"connections"`
}

// ImportConnections loads saved-connection metadata from a YAML file. Secrets
// are never read from the file. Existing connections with the same id are
// overwritten. Returns the number of connections imported.
func (v *Vault) ImportConnections(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read import file: %w", err)
	}

	var f importFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse import file: %w", err)
	}

	imported := 0
	for i, c := range f.Connections {
		if c.AuthType != "" && c.AuthType != AuthPassword && c.AuthType != AuthKey {
			log.Printf("[vault] import entry %d: unknown auth_type %q, skipped", i, logutil.SanitizeForLog(c.AuthType))
			continue
		}
		err := v.SaveConnection(Connection{
			ID:       c.ID,
			Name:     c.Name,
			Host:     c.Host,
			Port:     c.Port,
			Username: c.Username,
			AuthType: c.AuthType,
		})
		if err != nil {
			log.Printf("[vault] import entry %d: %v", i, err)
			continue
		}
		imported++
	}
	return imported, nil
}
