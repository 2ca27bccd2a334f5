package inject

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// AppStoreProcess installs packages on a node.
const AppStoreProcess = "main:app_store:uqbar"

// PackageMetadata is the subset of pkg/metadata.json the installer reads.
type PackageMetadata struct {
	Package   string `json:"package"`
	Publisher string `json:"publisher"`
}

// ID is package:publisher.
func (m PackageMetadata) ID() string {
	return m.Package + ":" + m.Publisher
}

// ReadMetadata loads <projectDir>/pkg/metadata.json.
func ReadMetadata(projectDir string) (PackageMetadata, error) {
	var meta PackageMetadata
	data, err := os.ReadFile(filepath.Join(projectDir, "pkg", "metadata.json"))
	if err != nil {
		return meta, fmt.Errorf("read package metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse package metadata: %w", err)
	}
	if meta.Package == "" || meta.Publisher == "" {
		return meta, fmt.Errorf("package metadata in %s missing package or publisher", projectDir)
	}
	return meta, nil
}

// ZipPackage archives <projectDir>/pkg to <projectDir>/target/<package>:<publisher>.zip
// and returns the archive path.
func ZipPackage(projectDir string) (string, PackageMetadata, error) {
	meta, err := ReadMetadata(projectDir)
	if err != nil {
		return "", meta, err
	}

	targetDir := filepath.Join(projectDir, "target")
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", meta, fmt.Errorf("create target dir: %w", err)
	}
	zipPath := filepath.Join(targetDir, meta.ID()+".zip")
	if err := zipDir(filepath.Join(projectDir, "pkg"), zipPath); err != nil {
		return "", meta, err
	}
	return zipPath, meta, nil
}

func zipDir(dir, dest string) (err error) {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		name := filepath.ToSlash(rel)

		hdr := &zip.FileHeader{Name: name, Method: zip.Store}
		hdr.SetMode(0o755)
		if d.IsDir() {
			hdr.Name += "/"
			_, err := zw.CreateHeader(hdr)
			return err
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if walkErr != nil {
		_ = zw.Close()
		return fmt.Errorf("zip %s: %w", dir, walkErr)
	}
	return zw.Close()
}

// NewPackageMessage uploads the archive at zipPath to the app store.
func NewPackageMessage(node *string, meta PackageMetadata, zipPath string) (Message, error) {
	ipc, err := json.Marshal(map[string]any{
		"NewPackage": map[string]any{
			"package": map[string]string{"package_name": meta.Package, "publisher_node": meta.Publisher},
			"mirror":  true,
		},
	})
	if err != nil {
		return Message{}, err
	}
	return NewMessage(AppStoreProcess, string(ipc), node, nil, zipPath)
}

// InstallMessage installs a previously uploaded package.
func InstallMessage(node *string, meta PackageMetadata) (Message, error) {
	ipc, err := json.Marshal(map[string]any{
		"Install": map[string]string{"package_name": meta.Package, "publisher_node": meta.Publisher},
	})
	if err != nil {
		return Message{}, err
	}
	return NewMessage(AppStoreProcess, string(ipc), node, nil, "")
}

// LoadPackage zips projectDir's pkg directory and installs it on the node
// behind c.
func (c *Client) LoadPackage(ctx context.Context, projectDir string, node *string) (PackageMetadata, error) {
	zipPath, meta, err := ZipPackage(projectDir)
	if err != nil {
		return meta, err
	}

	upload, err := NewPackageMessage(node, meta, zipPath)
	if err != nil {
		return meta, err
	}
	if _, err := c.Send(ctx, upload); err != nil {
		return meta, fmt.Errorf("upload %s: %w", meta.ID(), err)
	}

	install, err := InstallMessage(node, meta)
	if err != nil {
		return meta, err
	}
	if _, err := c.Send(ctx, install); err != nil {
		return meta, fmt.Errorf("install %s: %w", meta.ID(), err)
	}
	c.logger.Info("package installed", "package", meta.ID(), "url", c.baseURL)
	return meta, nil
}
