package storage

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, scanner Scanner) *Store {
	t.Helper()
	return NewStore(Config{
		Directory:         t.TempDir(),
		MinBytes:          1,
		MaxBytes:          64,
		AllowedExtensions: []string{"pdf", "txt"},
	}, scanner, zerolog.Nop())
}

func TestSaveAndOpen(t *testing.T) {
	s := testStore(t, nil)

	stored, err := s.Save("FOIL-2026-860-00001", "records.txt", strings.NewReader("hello records"))
	require.NoError(t, err)
	assert.Equal(t, "records.txt", stored.Name)
	assert.EqualValues(t, 13, stored.Size)
	assert.Contains(t, stored.MimeType, "text/plain")

	f, err := s.Open("FOIL-2026-860-00001", stored.ID, stored.Name)
	require.NoError(t, err)
	f.Close()
}

func TestSaveRejectsDisallowedExtension(t *testing.T) {
	s := testStore(t, nil)
	_, err := s.Save("FOIL-2026-860-00001", "payload.exe", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrDisallowedExtension)

	_, err = s.Save("FOIL-2026-860-00001", "noextension", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrDisallowedExtension)
}

func TestSaveEnforcesSizeBounds(t *testing.T) {
	s := testStore(t, nil)

	_, err := s.Save("FOIL-2026-860-00001", "empty.txt", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrTooSmall)

	_, err = s.Save("FOIL-2026-860-00001", "big.txt", strings.NewReader(strings.Repeat("a", 65)))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSaveRunsScanner(t *testing.T) {
	s := testStore(t, func(string) error { return errors.New("eicar") })
	_, err := s.Save("FOIL-2026-860-00001", "infected.txt", strings.NewReader("content"))
	assert.ErrorIs(t, err, ErrVirusFound)
}
