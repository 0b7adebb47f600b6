package storage

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/config"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
)

const RETRY_INTERVAL = 500 * time.Millisecond

type S3Storage struct {
	minioClient *minio.Core
	conf        config.StorageConf

	objectReqsHistogram *prometheus.HistogramVec
	objectDataBytes     *prometheus.CounterVec
}

func NewS3Storage(conf config.StorageConf, reg prometheus.Registerer) (*S3Storage, error) {
	if conf.Retry <= 0 {
		conf.Retry = types.DEFAULT_RETRY
	}
	sto := &S3Storage{
		conf: conf,
	}

	minioClient, err := minio.NewCore(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecertKey, ""),
		Secure: conf.Secure,
	})
	if err != nil {
		return nil, err
	}

	sto.minioClient = minioClient
	sto.initMetrics(reg)
	return sto, nil
}

func (s *S3Storage) initMetrics(reg prometheus.Registerer) {
	s.objectReqsHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "object_request_durations_histogram_seconds",
		Help:    "Object requests latency distributions.",
		Buckets: prometheus.ExponentialBuckets(0.01, 1.5, 25),
	}, []string{"method"})

	s.objectDataBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "object_request_data_bytes",
		Help: "Object requests size in bytes.",
	}, []string{"method"})

	if reg == nil {
		return
	}

	reg.MustRegister(s.objectReqsHistogram)
	reg.MustRegister(s.objectDataBytes)
}

// mapErr turns "no such key" replies into ENOENT.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return types.ENOENT
	}
	return err
}

func (u *S3Storage) HeadFile(req *HeadFileRequest) (*HeadFileReply, error) {
	var obj minio.ObjectInfo
	err := u.make_request(func() error {
		var err error
		obj, err = u.minioClient.StatObject(context.Background(), u.conf.Bucket, req.Key, minio.StatObjectOptions{})
		return mapErr(err)
	})
	if err != nil {
		return nil, err
	}

	reply := &HeadFileReply{}
	reply.IsDir = strings.HasSuffix(req.Key, "/")
	reply.Info.Key = req.Key
	reply.Info.Size = uint64(obj.Size)
	reply.Info.Mtime = obj.LastModified
	reply.Info.Ctime = obj.LastModified

	reply.Info.Metadata = make(map[string]string)
	for k, v := range obj.Metadata {
		if strings.HasPrefix(strings.ToLower(k), "x-amz-meta-") && len(v) > 0 {
			reply.Info.Metadata[k] = v[0]
		}
	}
	return reply, nil
}

func (u *S3Storage) PutFile(req *PutFileRequest) (*PutFileReply, error) {
	st := time.Now()
	logg.Dlog.Infof("putFile %s len:%d", req.Key, req.BufLen)

	buf := req.Buf
	if buf == nil {
		buf = bytes.NewReader(nil)
	}

	info, err := u.minioClient.PutObject(
		context.Background(),
		u.conf.Bucket,
		req.Key,
		buf,
		int64(req.BufLen),
		"", "",
		minio.PutObjectOptions{
			UserMetadata: req.MetaData,
		},
	)
	if err != nil {
		return nil, err
	}

	reply := &PutFileReply{
		Etag: info.ETag,
	}

	if req.BufLen != 0 {
		used := time.Since(st)
		u.objectReqsHistogram.WithLabelValues("WRITE").Observe(used.Seconds())
		u.objectDataBytes.WithLabelValues("WRITE").Add(float64(req.BufLen))
	}
	return reply, nil
}

func (u *S3Storage) GetFile(req *GetFileRequest) (*GetFileReply, error) {
	st := time.Now()
	logg.Dlog.Debugf("get_range %s %v~%v", req.Key, req.Offset, req.Length)

	options := minio.GetObjectOptions{}
	if req.Length > 0 {
		options.SetRange(int64(req.Offset), int64(req.Offset)+int64(req.Length-1))
	} else if req.Offset > 0 {
		options.SetRange(int64(req.Offset), 0)
	}

	var err error
	for i := 0; i < u.conf.Retry; i++ {
		body, obj, _, gerr := u.minioClient.GetObject(
			context.Background(),
			u.conf.Bucket,
			req.Key,
			options,
		)
		if gerr != nil {
			err = mapErr(gerr)
			if err == types.ENOENT {
				return nil, err
			}
			logg.Dlog.Errorf("GetFile Error: %v; retry", err)
			time.Sleep(time.Duration((i+1)*500) * time.Millisecond)
			continue
		}

		used := time.Since(st)
		u.objectReqsHistogram.WithLabelValues("READ").Observe(used.Seconds())
		u.objectDataBytes.WithLabelValues("READ").Add(float64(obj.Size))
		return &GetFileReply{Body: body}, nil
	}

	return nil, err
}

func (u *S3Storage) DeleteFile(req *DeleteFileRequest) (*DeleteFileReply, error) {
	logg.Dlog.Infof("deleteBlob %v", req.Key)
	err := u.minioClient.RemoveObject(
		context.Background(),
		u.conf.Bucket,
		req.Key,
		minio.RemoveObjectOptions{},
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &DeleteFileReply{}, nil
}

func (u *S3Storage) make_request(f func() error) error {
	interval := RETRY_INTERVAL
	var err error
	for i := 0; i <= u.conf.Retry; i++ {
		err = f()
		if err == nil {
			break
		}
		switch err {
		case types.ENOENT, types.EPERM:
			return err
		}
		time.Sleep(interval)
		interval = interval * time.Duration(2)
	}
	return err
}

func (u *S3Storage) ListObjects(req *ListObjectsRequest) (*ListObjectsReply, error) {
	var resp minio.ListBucketV2Result
	err := u.make_request(func() error {
		var err error
		resp, err = u.minioClient.ListObjectsV2(
			u.conf.Bucket,
			req.Prefix,
			"",
			req.Marker,
			req.Delimiter,
			int(req.Max),
		)
		return err
	})
	if err != nil {
		logg.Dlog.Errorf("listObjects %v", err)
		return nil, err
	}

	reply := &ListObjectsReply{
		Objects:        make([]*ObjectInfo, 0, len(resp.Contents)),
		CommonPrefixes: make([]string, 0, len(resp.CommonPrefixes)),
	}

	hits := make(map[string]struct{}, len(resp.CommonPrefixes))
	for _, i := range resp.CommonPrefixes {
		reply.CommonPrefixes = append(reply.CommonPrefixes, i.Prefix)
		l := len(i.Prefix)
		if l > 0 {
			hits[i.Prefix[:len(i.Prefix)-1]] = struct{}{}
		}
	}
	for _, obj := range resp.Contents {
		if _, exist := hits[obj.Key]; exist {
			continue
		}

		reply.Objects = append(reply.Objects, &ObjectInfo{
			Key:      obj.Key,
			Size:     uint64(obj.Size),
			Mtime:    obj.LastModified,
			Ctime:    obj.LastModified,
			Metadata: obj.UserMetadata,
		})
	}
	reply.IsTrunc = resp.IsTruncated
	reply.Marker = resp.NextContinuationToken
	return reply, nil
}

func (u *S3Storage) Copy(req *CopyRequest) error {
	logg.Dlog.Infof("copy %s to %s", req.Src, req.Dst)

	_, err := u.minioClient.CopyObject(
		context.Background(),
		u.conf.Bucket,
		req.Src,
		u.conf.Bucket,
		req.Dst,
		nil,
		minio.CopySrcOptions{},
		minio.PutObjectOptions{},
	)
	return mapErr(err)
}
