package build

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"grimm.is/uqdev/internal/config"
)

// DefaultReleaseBaseURL hosts released runtimes as
// <base>/v<version>/uqbar-<platform>.zip.
const DefaultReleaseBaseURL = "https://github.com/uqbar-dao/uqbar/releases/download"

const runtimeBinary = "uqbar"

// ResolveRuntime returns the path of the node binary described by rt,
// building or downloading it as needed.
func (b *Builder) ResolveRuntime(ctx context.Context, rt config.Runtime, verbose bool) (string, error) {
	if rt.IsFetch() {
		return b.FetchRuntime(ctx, rt.FetchVersion)
	}
	return b.BuildRuntime(ctx, rt.RepoPath, verbose)
}

// BuildRuntime compiles a runtime checkout and returns its release binary.
func (b *Builder) BuildRuntime(ctx context.Context, repo string, verbose bool) (string, error) {
	if err := b.BuildPackage(ctx, repo, verbose); err != nil {
		return "", err
	}
	bin := filepath.Join(repo, "target", "release", runtimeBinary)
	if _, err := os.Stat(bin); err != nil {
		return "", &Error{Path: repo, Err: fmt.Errorf("runtime binary missing after build: %w", err)}
	}
	return bin, nil
}

// ReleaseAsset names the release archive for a platform.
func ReleaseAsset(goos, goarch string) (string, error) {
	var arch, osName string
	switch goarch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "arm64"
	default:
		return "", fmt.Errorf("no runtime release for architecture %s", goarch)
	}
	switch goos {
	case "linux":
		osName = "unknown-linux-gnu"
	case "darwin":
		osName = "apple-darwin"
	default:
		return "", fmt.Errorf("no runtime release for OS %s", goos)
	}
	return fmt.Sprintf("uqbar-%s-%s.zip", arch, osName), nil
}

// FetchRuntime returns the cached binary for version, downloading and
// extracting the release archive on a cache miss.
func (b *Builder) FetchRuntime(ctx context.Context, version string) (string, error) {
	version = strings.TrimPrefix(version, "v")
	dir := filepath.Join(b.opts.CacheDir, "v"+version)
	bin := filepath.Join(dir, runtimeBinary)
	if _, err := os.Stat(bin); err == nil {
		b.logger.Debug("runtime cached", "version", version, "path", bin)
		return bin, nil
	}

	asset, err := ReleaseAsset(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/v%s/%s", strings.TrimRight(b.opts.ReleaseBaseURL, "/"), version, asset)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create runtime cache: %w", err)
	}
	archive, err := os.CreateTemp(dir, "download-*.zip")
	if err != nil {
		return "", err
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	b.logger.Info("fetching runtime", "version", version, "url", url)
	if err := download(ctx, url, archive); err != nil {
		return "", err
	}
	if err := extractBinary(archive.Name(), runtimeBinary, bin); err != nil {
		return "", err
	}
	return bin, nil
}

func download(ctx context.Context, url string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	return nil
}

// extractBinary copies the archive entry whose base name is name to dest.
func extractBinary(archivePath, name, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open runtime archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || filepath.Base(f.Name) != name {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		defer src.Close()

		tmp := dest + ".tmp"
		out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		return os.Rename(tmp, dest)
	}
	return fmt.Errorf("runtime archive has no %s entry", name)
}
