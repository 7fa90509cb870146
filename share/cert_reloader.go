package simshare

import (
	"crypto/tls"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CertReloader serves a certificate/key pair loaded from disk to a tls.Config,
// optionally reloading it when either file changes. A failed reload keeps the
// previous certificate.
type CertReloader struct {
	ShutdownHelper
	certFile string
	keyFile  string
	certLock sync.RWMutex
	cert     *tls.Certificate
	watcher  *fsnotify.Watcher
}

// NewCertReloader loads the initial certificate. It fails if the pair cannot be loaded.
func NewCertReloader(logger Logger, certFile string, keyFile string) (*CertReloader, error) {
	r := &CertReloader{
		certFile: certFile,
		keyFile:  keyFile,
	}
	r.InitShutdownHelper(logger.Fork("CertReloader"), r)
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the certificate pair from disk and makes it current
func (r *CertReloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return r.Errorf("Unable to load certificate (%s, %s): %s", r.certFile, r.keyFile, err)
	}
	r.certLock.Lock()
	r.cert = &cert
	r.certLock.Unlock()
	return nil
}

// GetCertificate implements tls.Config.GetCertificate
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.certLock.RLock()
	defer r.certLock.RUnlock()
	return r.cert, nil
}

// TLSConfig returns a server tls.Config backed by this reloader
func (r *CertReloader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.GetCertificate,
	}
}

// Watch starts watching the directories holding the certificate files. Directories
// are watched rather than the files because renewal tools replace files by rename.
func (r *CertReloader) Watch() error {
	return r.DoOnceActivate(
		func() error {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return r.Errorf("Unable to create file watcher: %s", err)
			}
			dirs := map[string]bool{
				filepath.Dir(r.certFile): true,
				filepath.Dir(r.keyFile):  true,
			}
			for dir := range dirs {
				if err := w.Add(dir); err != nil {
					w.Close()
					return r.Errorf("Unable to watch %s: %s", dir, err)
				}
			}
			r.watcher = w
			done := make(chan struct{})
			r.AddShutdownChildChan(done)
			go func() {
				defer close(done)
				r.watchLoop(w)
			}()
			r.DLogf("Watching %s and %s", r.certFile, r.keyFile)
			return nil
		},
		false,
	)
}

func (r *CertReloader) watchLoop(w *fsnotify.Watcher) {
	certPath := filepath.Clean(r.certFile)
	keyPath := filepath.Clean(r.keyFile)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			name := filepath.Clean(ev.Name)
			if name != certPath && name != keyPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				// the pair may be mid-update; the next event retries
				r.DLogf("Reload after %s deferred: %s", ev, err)
				continue
			}
			r.ILogf("Reloaded certificate after %s", ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.WLogf("File watcher error: %s", err)
		}
	}
}

// HandleOnceShutdown stops the watcher
func (r *CertReloader) HandleOnceShutdown(completionErr error) error {
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil && completionErr == nil {
			completionErr = r.Errorf("Close of file watcher failed: %s", err)
		}
	}
	return completionErr
}
