package snapshot

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
)

type dirMeta struct {
	path    string
	perm    fs.FileMode
	modTime time.Time
}

// copyTree copies the contents of srcDir into the existing directory dstDir.
// Regular files keep mode and mtime, symlinks are recreated, directories keep
// their permissions. Returns a digest for every regular file copied.
func copyTree(ctx context.Context, srcDir, dstDir string) ([]FileDigest, int64, error) {
	srcDir, err := resolveRoot(srcDir)
	if err != nil {
		return nil, 0, err
	}
	srcInfo, err := os.Stat(srcDir)
	if err != nil {
		return nil, 0, fmt.Errorf("stat source directory: %w", err)
	}
	if !srcInfo.IsDir() {
		return nil, 0, fmt.Errorf("source path %q is not a directory", srcDir)
	}

	var (
		digests []FileDigest
		total   int64
		dirs    = []dirMeta{{path: dstDir, perm: srcInfo.Mode().Perm(), modTime: srcInfo.ModTime()}}
	)

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == srcDir {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return fmt.Errorf("resolve relative path: %w", err)
		}
		dstPath := filepath.Join(dstDir, relPath)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("read entry info for %q: %w", path, err)
		}

		switch {
		case d.IsDir():
			// Owner write is needed while children are copied; final perms are applied afterwards.
			if err := os.Mkdir(dstPath, info.Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("create directory %q: %w", dstPath, err)
			}
			dirs = append(dirs, dirMeta{path: dstPath, perm: info.Mode().Perm(), modTime: info.ModTime()})
		case info.Mode().IsRegular():
			sum, err := copyFile(path, dstPath, info)
			if err != nil {
				return err
			}
			digests = append(digests, FileDigest{Path: filepath.ToSlash(relPath), Size: info.Size(), Digest: sum})
			total += info.Size()
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("read symlink %q: %w", path, err)
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return fmt.Errorf("create symlink %q: %w", dstPath, err)
			}
		default:
			return fmt.Errorf("unsupported file type for %q (%s)", path, info.Mode().Type())
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	// Deepest first so restoring a parent's mtime is not disturbed by its children.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chmod(dirs[i].path, dirs[i].perm); err != nil {
			return nil, 0, fmt.Errorf("chmod directory %q: %w", dirs[i].path, err)
		}
		if err := os.Chtimes(dirs[i].path, dirs[i].modTime, dirs[i].modTime); err != nil {
			return nil, 0, fmt.Errorf("set times on %q: %w", dirs[i].path, err)
		}
	}

	sortDigests(digests)
	return digests, total, nil
}

// resolveRoot follows a symlinked root; WalkDir does not descend into one.
// Symlinks below the root are still copied as links.
func resolveRoot(dir string) (string, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", dir, err)
	}
	return resolved, nil
}

func copyFile(src, dst string, info fs.FileInfo) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %q: %w", dst, err)
	}

	hasher := blake3.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("copy %q: %w", src, err)
	}
	if err := out.Chmod(info.Mode().Perm()); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("chmod %q: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %q: %w", dst, err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return "", fmt.Errorf("set times on %q: %w", dst, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Digest computes a BLAKE3 manifest of every regular file under dir.
func Digest(ctx context.Context, dir string) ([]FileDigest, error) {
	dir, err := resolveRoot(dir)
	if err != nil {
		return nil, err
	}
	var digests []FileDigest
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("read entry info for %q: %w", path, err)
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("resolve relative path: %w", err)
		}
		digests = append(digests, FileDigest{Path: filepath.ToSlash(relPath), Size: info.Size(), Digest: sum})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortDigests(digests)
	return digests, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func sortDigests(d []FileDigest) {
	sort.Slice(d, func(i, j int) bool { return d[i].Path < d[j].Path })
}

// CompareDigests returns a description of each difference between want and got.
func CompareDigests(want, got []FileDigest) []string {
	gotByPath := make(map[string]FileDigest, len(got))
	for _, g := range got {
		gotByPath[g.Path] = g
	}

	var diffs []string
	for _, w := range want {
		g, ok := gotByPath[w.Path]
		if !ok {
			diffs = append(diffs, "missing "+w.Path)
			continue
		}
		if g.Digest != w.Digest {
			diffs = append(diffs, "changed "+w.Path)
		}
		delete(gotByPath, w.Path)
	}
	extra := make([]string, 0, len(gotByPath))
	for p := range gotByPath {
		extra = append(extra, "unexpected "+p)
	}
	sort.Strings(extra)
	return append(diffs, extra...)
}
