package nvim

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/neovim/go-client/nvim"

	"github.com/sokinpui/revise/internal/logging"
)

// EnvListenAddress names the socket of the editor that launched us.
const EnvListenAddress = "NVIM_LISTEN_ADDRESS"

// Notifier tells a running Neovim to re-read files changed on disk.
type Notifier struct {
	addr string
	root string
}

// NewNotifier creates a Notifier for the editor listening on addr. An empty
// addr disables it.
func NewNotifier(addr, root string) *Notifier {
	return &Notifier{addr: addr, root: root}
}

// FromEnv creates a Notifier from NVIM_LISTEN_ADDRESS.
func FromEnv(root string) *Notifier {
	return NewNotifier(os.Getenv(EnvListenAddress), root)
}

// Enabled reports whether a Neovim address is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.addr != ""
}

// processSequentially runs processFn over items, collecting paths that
// succeeded and failed.
func processSequentially[T any](items []T, processFn func(item T) (path string, ok bool)) (succeeded, failed []string) {
	for _, item := range items {
		path, ok := processFn(item)
		if ok {
			succeeded = append(succeeded, path)
		} else {
			failed = append(failed, path)
		}
	}
	return succeeded, failed
}

// Reload runs checktime for each file, relative to the project root, so
// open buffers pick up the new content. It does nothing when disabled.
func (n *Notifier) Reload(files []string) (reloaded, failed []string, err error) {
	if !n.Enabled() || len(files) == 0 {
		return nil, nil, nil
	}

	v, err := nvim.Dial(n.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nvim at %s: %w", n.addr, err)
	}
	defer v.Close()

	reloaded, failed = processSequentially(files, func(file string) (string, bool) {
		abs := file
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(n.root, filepath.FromSlash(file))
		}
		var escaped string
		if err := v.Call("fnameescape", &escaped, abs); err != nil {
			logging.Debug("nvim fnameescape failed", "file", file, "error", err)
			return file, false
		}
		if err := v.Command("silent! checktime " + escaped); err != nil {
			logging.Debug("nvim checktime failed", "file", file, "error", err)
			return file, false
		}
		return file, true
	})
	logging.Debug("nvim buffers reloaded", "reloaded", len(reloaded), "failed", len(failed))
	return reloaded, failed, nil
}
