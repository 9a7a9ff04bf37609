// Package snapshot reads and writes the ledger's durable account document:
// the canonical file overwritten on every commit, and timestamped backup
// copies that are never overwritten.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"

	"commoncoin.gg/internal/money"
)

const Version = 2

type AccountV2 struct {
	Balance money.Money `json:"balance"`
	Faction string      `json:"faction,omitempty"`
}

type DocV2 struct {
	Version   int                  `json:"version"`
	WrittenAt string               `json:"written_at"`
	Accounts  map[string]AccountV2 `json:"accounts"`
}

// envelope distinguishes a V2 document from the legacy flat map.
type envelope struct {
	Version int `json:"version"`
}

// Write replaces the canonical file atomically. A crash mid-write leaves
// the previous document intact.
func Write(path string, doc DocV2) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	doc.Version = Version
	if doc.WrittenAt == "" {
		doc.WrittenAt = time.Now().UTC().Format(time.RFC3339)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, append(b, '\n'), 0o644)
}

// WriteCopy writes a backup copy named by capture time. Second granularity
// keeps names unique across manual back-to-back backups.
func WriteCopy(dir string, now time.Time, doc DocV2) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	doc.Version = Version
	if doc.WrittenAt == "" {
		doc.WrittenAt = now.UTC().Format(time.RFC3339)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, now.Format("2006-01-02_15-04-05")+".json")
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Read parses the canonical document. Legacy files from early iterations
// are a flat {account_id: balance} map with no envelope; those load as V2
// with every faction unset.
func Read(path string) (DocV2, error) {
	var doc DocV2
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err == nil && env.Version >= Version {
		if err := json.Unmarshal(b, &doc); err != nil {
			return doc, fmt.Errorf("snapshot v%d decode: %w", env.Version, err)
		}
		if doc.Accounts == nil {
			doc.Accounts = map[string]AccountV2{}
		}
		return doc, nil
	}

	var legacy map[string]money.Money
	if err := json.Unmarshal(b, &legacy); err != nil {
		return doc, fmt.Errorf("snapshot decode: %w", err)
	}
	doc.Version = Version
	doc.Accounts = make(map[string]AccountV2, len(legacy))
	for id, bal := range legacy {
		doc.Accounts[id] = AccountV2{Balance: bal}
	}
	return doc, nil
}
