package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Povolené znaky v názvu služby. Cokoliv jiného (hlavně "..", "/", "\") by
// mohlo z topicu udělat cestu mimo LogDir.
var serviceName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Collector zapisuje logy z MQTT do souborů <dir>/<služba>.log.
type Collector struct {
	dir string
	// MQTT callbacky mohou běžet souběžně, zápisy do jednoho souboru serializujeme.
	mu sync.Mutex
}

func NewCollector(dir string) (*Collector, error) {
	// 0755: vlastník může psát, ostatní číst/spouštět.
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("nelze vytvořit adresář pro logy: %w", err)
	}
	return &Collector{dir: dir}, nil
}

// FileFor převede topic "logs/<služba>[/...]" na cestu k souboru.
func (c *Collector) FileFor(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != "logs" {
		return "", fmt.Errorf("špatný formát topicu %q", topic)
	}
	name := parts[1]
	if !serviceName.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("neplatný název služby %q", name)
	}
	return filepath.Join(c.dir, name+".log"), nil
}

// Append připíše jeden řádek. Pattern Open-Write-Close snese rotaci logů zvenku.
func (c *Collector) Append(topic string, payload []byte) error {
	filename, err := c.FileFor(topic)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	// slog JSON handler končí řádek sám, MQTT payload z jiných zdrojů ne.
	line := payload
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append([]byte{}, line...), '\n')
	}
	_, err = f.Write(line)
	return err
}
