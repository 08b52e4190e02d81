package config

import (
	"strings"
	"testing"
)

const validCatalogue = `
playlists:
  - name: hooked originals
    sections:
      - artist: Artist A
        name: Song A
        filename: a.mp3
        duration: 10
        tag: Original
        group: song-a
      - artist: Artist B
        name: Song B
        filename: b.mp3
        duration: 10
        tag: Original
        group: song-b
phases:
  - name: main study
    randomize: true
blocks:
  - slug: hooked
    rules: song_sync
    rounds: 12
    bonus_points: 3
    phase: main study
    index: 0
    playlists: [hooked originals]
  - slug: rhythm
    rules: anisochrony
    rounds: 10
    phase: main study
    index: 1
`

func TestParseCatalogue(t *testing.T) {
	cat, err := ParseCatalogue(strings.NewReader(validCatalogue))
	if err != nil {
		t.Fatalf("ParseCatalogue: %v", err)
	}
	if len(cat.Playlists) != 1 || len(cat.Playlists[0].Sections) != 2 {
		t.Fatalf("unexpected playlists %+v", cat.Playlists)
	}
	if len(cat.Blocks) != 2 || cat.Blocks[0].Rules != "song_sync" || cat.Blocks[0].BonusPoints != 3 {
		t.Fatalf("unexpected blocks %+v", cat.Blocks)
	}
	if len(cat.Phases) != 1 || !cat.Phases[0].Randomize {
		t.Fatalf("unexpected phases %+v", cat.Phases)
	}
}

func TestParseCatalogueRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown field",
			yaml: "blocks:\n  - slug: x\n    rules: song_sync\n    shape: round\n",
		},
		{
			name: "duplicate slug",
			yaml: "blocks:\n  - slug: x\n    rules: song_sync\n  - slug: x\n    rules: anisochrony\n",
		},
		{
			name: "missing rules",
			yaml: "blocks:\n  - slug: x\n",
		},
		{
			name: "unknown playlist reference",
			yaml: "blocks:\n  - slug: x\n    rules: song_sync\n    playlists: [nope]\n",
		},
		{
			name: "unknown phase reference",
			yaml: "blocks:\n  - slug: x\n    rules: song_sync\n    phase: nope\n",
		},
		{
			name: "section without filename",
			yaml: "playlists:\n  - name: p\n    sections:\n      - artist: a\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseCatalogue(strings.NewReader(tc.yaml)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
