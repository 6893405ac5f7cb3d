package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，目录不存在时递归创建，已存在则直接复用。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{basePath: abs}, nil
}

// fileStore 将每个 Key 保存为 basePath/<key>.jpg，正文为原始字节，无额外元数据。
type fileStore struct {
	basePath string
}

func (s *fileStore) Exists(ctx context.Context, key Key) (bool, error) {
	filePath, err := s.entryPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %w", ErrStorage, key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *fileStore) Read(ctx context.Context, key Key) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrStorage, key, err)
	}
	return data, nil
}

// Write 通过临时文件 + rename 保证读者不会看到写了一半的文件，并发写入时最后完成的 rename 生效。
// Write 不检查 ctx：请求取消（包括优雅退出）不会中断已开始的写入。
func (s *fileStore) Write(ctx context.Context, key Key, data []byte) error {
	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	if err := s.writeAtomic(filePath, data); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStorage, key, err)
	}
	return nil
}

func (s *fileStore) writeAtomic(filePath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, key Key) error {
	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("%w: delete %s: %w", ErrStorage, key, err)
	}
	return nil
}

func (s *fileStore) entryPath(key Key) (string, error) {
	if key.IsZero() {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.basePath, key.FileName()), nil
}
