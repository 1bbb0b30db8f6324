package helper

import (
	"os"
	"path/filepath"
)

const appDir = "evalcoach"

// GetCfgPath resolves a configuration file name.
//
// Absolute paths are returned as is. Otherwise the first existing file among
// ./{filename}, ./configs/{filename} and {user config dir}/evalcoach/{filename}
// wins, falling back to /etc/evalcoach/{filename}.
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	var dirs []string
	if wd, err := os.Getwd(); err == nil && wd != "" {
		dirs = append(dirs, wd, filepath.Join(wd, "configs"))
	}
	if home, err := os.UserConfigDir(); err == nil && home != "" {
		dirs = append(dirs, filepath.Join(home, appDir))
	}
	if p := firstExisting(filename, dirs); p != "" {
		return p
	}
	return filepath.Join("/etc", appDir, filename)
}

// GetPIDPath resolves the PID file location. Relative names land in the
// working directory when their parent exists; otherwise the file goes to
// the runtime directory.
func GetPIDPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	if filename != "" {
		if abs, err := filepath.Abs(filename); err == nil {
			if _, err := os.Stat(filepath.Dir(abs)); err == nil {
				return abs
			}
		}
	}
	return filepath.Join(runtimeDir(), appDir+".pid")
}

func runtimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

func firstExisting(filename string, dirs []string) string {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			return abs
		}
	}
	return ""
}
