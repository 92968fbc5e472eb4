package filesystem

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// GetDefaultDownloadPath returns the user's Downloads directory.
func GetDefaultDownloadPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, "Downloads"), nil
}

// OpenFolder opens the platform file explorer with path selected.
func OpenFolder(path string) error {
	var cmd *exec.Cmd
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", "/select,", absPath)
	case "darwin":
		cmd = exec.Command("open", "-R", absPath)
	case "linux":
		dir := filepath.Dir(absPath)
		cmd = exec.Command("xdg-open", dir)
	default:
		return fmt.Errorf("unsupported platform")
	}

	return cmd.Start()
}

// GetCategory returns the category subfolder for a filename based on its
// extension.
func GetCategory(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".svg":
		return "Images"
	case ".mp4", ".mkv", ".mov", ".avi", ".webm", ".wmv":
		return "Videos"
	case ".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a":
		return "Music"
	case ".zip", ".rar", ".7z", ".tar", ".gz", ".iso":
		return "Archives"
	case ".pdf", ".docx", ".xlsx", ".pptx", ".txt", ".md":
		return "Documents"
	case ".exe", ".msi", ".dmg", ".pkg", ".deb":
		return "Software"
	default:
		return "Others"
	}
}

// GetOrganizedPath returns the path where a freshly queued download should
// be written: baseDir/category/filename.
func GetOrganizedPath(baseDir, filename string) string {
	return filepath.Join(baseDir, GetCategory(filename), filename)
}

// FindAvailablePath appends " (n)" before the extension until path does not
// collide with an existing file.
func FindAvailablePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	dir := filepath.Dir(path)
	nameOnly := strings.TrimSuffix(filepath.Base(path), ext)

	for i := 1; i < 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", nameOnly, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameOnly, 9999, ext))
}

// SmartOrganizer moves a completed download into a category subfolder
// alongside its current directory.
type SmartOrganizer struct {
	enabled bool
}

func NewSmartOrganizer() *SmartOrganizer {
	return &SmartOrganizer{enabled: true}
}

// SetEnabled toggles smart sorting; OrganizeFile is a no-op while disabled.
func (o *SmartOrganizer) SetEnabled(enabled bool) {
	o.enabled = enabled
}

// OrganizeFile moves the file at outputPath into a category subfolder of its
// parent directory, handling name collisions, and returns the final path.
func (o *SmartOrganizer) OrganizeFile(outputPath string) (string, error) {
	if !o.enabled {
		return outputPath, nil
	}

	filename := filepath.Base(outputPath)
	category := GetCategory(filename)
	baseDir := filepath.Dir(outputPath)

	targetDir := filepath.Join(baseDir, category)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return outputPath, fmt.Errorf("create category dir: %w", err)
	}

	targetPath := FindAvailablePath(filepath.Join(targetDir, filename))

	if err := os.Rename(outputPath, targetPath); err != nil {
		return outputPath, fmt.Errorf("move file: %w", err)
	}

	return targetPath, nil
}
