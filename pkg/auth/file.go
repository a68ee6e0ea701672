package auth

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// FileCredentials is a CredentialsProvider for a user:password pair
// which is backed by a file. This will lookup the value from the file,
// and will watch the file for changes, and re-read when required.
//
// This is typically used where a secrets manager mounts the cluster
// credentials into the test runner and rotates them in place.
type FileCredentials struct {
	mutex    sync.RWMutex
	user     string
	password string

	filename string
	watcher  *fsnotify.Watcher
	log      logr.Logger
}

type FileOption func(fc *FileCredentials)

func WithLogger(log logr.Logger) FileOption {
	return func(fc *FileCredentials) {
		fc.log = log
	}
}

// rewatchBackoff bounds how long a replaced file may be missing before
// the watch on it is given up.
var rewatchBackoff = wait.Backoff{
	Duration: 20 * time.Millisecond,
	Factor:   2,
	Steps:    6,
}

func NewFileCredentials(filename string, opt ...FileOption) (*FileCredentials, error) {
	fc := &FileCredentials{
		filename: filename,
		log:      klog.Background().WithName("auth"),
	}
	for _, o := range opt {
		o(fc)
	}
	if err := fc.load(filename); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "watching credentials file")
	}
	fc.watcher = watcher

	if err := watcher.Add(filename); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watching %s", filename)
	}
	go fc.watch()

	return fc, nil
}

func (fc *FileCredentials) watch() {
	for {
		select {
		case event, ok := <-fc.watcher.Events:
			if !ok {
				return
			}
			fc.handle(event)
		case err, ok := <-fc.watcher.Errors:
			if !ok {
				return
			}
			fc.log.Error(err, "watching credentials file", "file", fc.filename)
		}
	}
}

func (fc *FileCredentials) handle(event fsnotify.Event) {
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// The file was replaced, typically by an atomic rename, which
		// drops the watch along with the old inode.
		if err := fc.rewatch(); err != nil {
			fc.log.Error(err, "credentials file no longer watched", "file", fc.filename)
			return
		}
	case event.Op&(fsnotify.Write|fsnotify.Create) == 0:
		return
	}

	// A half written file keeps the previous pair.
	if err := fc.load(fc.filename); err != nil {
		fc.log.Error(err, "reloading credentials", "file", fc.filename)
		return
	}
	fc.log.V(2).Info("reloaded credentials", "file", fc.filename)
}

func (fc *FileCredentials) rewatch() error {
	var lastErr error
	err := wait.ExponentialBackoff(rewatchBackoff, func() (bool, error) {
		lastErr = fc.watcher.Add(fc.filename)
		return lastErr == nil, nil
	})
	if wait.Interrupted(err) {
		return errors.Wrapf(lastErr, "watching %s", fc.filename)
	}
	return err
}

func (fc *FileCredentials) load(filename string) error {
	value, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, "reading credentials file")
	}
	user, password, err := ParsePair(strings.TrimSpace(string(value)))
	if err != nil {
		return errors.Wrapf(err, "credentials file %s", filename)
	}

	fc.mutex.Lock()
	fc.user, fc.password = user, password
	fc.mutex.Unlock()
	return nil
}

func (fc *FileCredentials) Credentials() (string, string, bool) {
	fc.mutex.RLock()
	defer fc.mutex.RUnlock()

	return fc.user, fc.password, fc.user != ""
}

// Close stops watching the file.
func (fc *FileCredentials) Close() error {
	return fc.watcher.Close()
}

// ParsePair splits a USER:PASS string.
func ParsePair(pair string) (string, string, error) {
	user, password, ok := strings.Cut(pair, ":")
	if !ok || user == "" {
		return "", "", errors.New("expected USER:PASS")
	}
	return user, password, nil
}
