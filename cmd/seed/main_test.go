package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildCommandsSplitsLargeGroups(t *testing.T) {
	var rows []seedRow
	for _, en := range []string{"cat", "dog", "horse", "cow", "bird", "fish", "mouse"} {
		rows = append(rows, seedRow{level: "A1", set: "Animals", en: en, pl: en})
	}
	rows = append(rows, seedRow{level: "A2", set: "Home", en: "door", pl: "drzwi"})

	cmds := buildCommands(rows)
	if len(cmds) != 3 {
		t.Fatalf("got %d commands, want 3", len(cmds))
	}
	if cmds[0].Name != "Animals" || len(cmds[0].Words) != wordsPerSet {
		t.Errorf("first = %s with %d words", cmds[0].Name, len(cmds[0].Words))
	}
	if cmds[1].Name != "Animals 2" || len(cmds[1].Words) != 2 {
		t.Errorf("second = %s with %d words", cmds[1].Name, len(cmds[1].Words))
	}
	if cmds[2].Name != "Home" || cmds[2].Level != "A2" {
		t.Errorf("third = %+v", cmds[2])
	}
}

func TestLoadRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.tsv")
	content := "# comment\n\na1\tAnimals\tcat\tkot\nB1\tTravel\tticket\tbilet\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, err := loadRows(path)
	if err != nil {
		t.Fatalf("loadRows: %v", err)
	}
	if len(rows) != 2 || rows[0].level != "A1" || rows[1].pl != "bilet" {
		t.Fatalf("rows = %+v", rows)
	}

	if err := os.WriteFile(path, []byte("Z9\tX\ta\tb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadRows(path); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
