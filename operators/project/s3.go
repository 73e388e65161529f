package project

import (
	"fmt"
	"io"
	"os"
	"time"

	"arrowframe/config"

	"github.com/minio/minio-go"
)

// NetworkResource wraps an object in a remote bucket. CSV readers consume
// the stream directly; parquet readers go through ReadAt/Seek.
type NetworkResource struct {
	client *minio.Client
	bucket string
	key    string

	stream *minio.Object
}

func NewStreamReader(fileName string) (*NetworkResource, error) {
	secrets := config.GetConfig().Secretes
	client, err := minio.New(secrets.EndpointURL, secrets.AccessKey, secrets.SecretKey, true)
	if err != nil {
		return nil, err
	}
	obj, err := client.GetObject(secrets.BucketName, fileName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return &NetworkResource{
		client: client,
		bucket: secrets.BucketName,
		key:    fileName,
		stream: obj,
	}, nil
}

func (n *NetworkResource) Stream() io.Reader {
	return n.stream
}

// ReadAt satisfies io.ReaderAt for parquet readers via ranged GETs.
func (n *NetworkResource) ReadAt(p []byte, off int64) (int, error) {
	opts := minio.GetObjectOptions{}
	_ = opts.SetRange(off, off+int64(len(p))-1)

	obj, err := n.client.GetObject(n.bucket, n.key, opts)
	if err != nil {
		return 0, err
	}
	return io.ReadFull(obj, p)
}

func (n *NetworkResource) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		return offset, nil
	case io.SeekEnd:
		info, err := n.client.StatObject(n.bucket, n.key, minio.StatObjectOptions{})
		if err != nil {
			return 0, fmt.Errorf("failed to stat object: %w", err)
		}
		return info.Size, nil
	default:
		return 0, fmt.Errorf("unsupported seek mode for S3: %d", whence)
	}
}

// DownloadLocally spools the object to a temp file so it can be re-read.
func (n *NetworkResource) DownloadLocally() (*os.File, error) {
	f, err := os.Create(fmt.Sprintf("%s-%d", n.key, time.Now().UnixNano()))
	if err != nil {
		return nil, err
	}
	content, err := io.ReadAll(n.stream)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(content); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}
