package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	user, pass, ok := NewStatic("adm", "pass").Credentials()
	assert.True(t, ok)
	assert.Equal(t, "adm", user)
	assert.Equal(t, "pass", pass)

	_, _, ok = NewStatic("", "").Credentials()
	assert.False(t, ok)

	_, _, ok = Anonymous{}.Credentials()
	assert.False(t, ok)
}

func TestParsePair(t *testing.T) {
	user, pass, err := ParsePair("bob:a:b")
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
	assert.Equal(t, "a:b", pass)

	_, _, err = ParsePair("bob")
	assert.Error(t, err)
	_, _, err = ParsePair(":pass")
	assert.Error(t, err)
}

func TestFileCredentialsReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds")
	require.NoError(t, os.WriteFile(path, []byte("adm:pass\n"), 0o600))

	fc, err := NewFileCredentials(path)
	require.NoError(t, err)
	defer fc.Close()

	user, pass, ok := fc.Credentials()
	require.True(t, ok)
	assert.Equal(t, "adm", user)
	assert.Equal(t, "pass", pass)

	require.NoError(t, os.WriteFile(path, []byte("adm:rotated\n"), 0o600))
	assert.Eventually(t, func() bool {
		_, pass, _ := fc.Credentials()
		return pass == "rotated"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFileCredentialsRenameRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds")
	require.NoError(t, os.WriteFile(path, []byte("adm:pass\n"), 0o600))

	fc, err := NewFileCredentials(path)
	require.NoError(t, err)
	defer fc.Close()

	for _, pass := range []string{"first", "second"} {
		tmp := filepath.Join(dir, "creds.tmp")
		require.NoError(t, os.WriteFile(tmp, []byte("adm:"+pass+"\n"), 0o600))
		require.NoError(t, os.Rename(tmp, path))

		assert.Eventually(t, func() bool {
			_, got, _ := fc.Credentials()
			return got == pass
		}, 5*time.Second, 10*time.Millisecond, "rotation to %q not picked up", pass)
	}

	// The watch survives the renames, so an in place write still works.
	require.NoError(t, os.WriteFile(path, []byte("adm:third\n"), 0o600))
	assert.Eventually(t, func() bool {
		_, got, _ := fc.Credentials()
		return got == "third"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFileCredentialsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds")
	require.NoError(t, os.WriteFile(path, []byte("nocolon"), 0o600))

	_, err := NewFileCredentials(path)
	assert.ErrorContains(t, err, "expected USER:PASS")

	_, err = NewFileCredentials(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
