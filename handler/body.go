/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package handler

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/rulego/webbus/router"
)

const (
	// DefaultBodyLimit is the default maximum body size, 10 MiB.
	DefaultBodyLimit = 10 << 20
	// DefaultUploadsDirectory is where uploaded files are saved by default.
	DefaultUploadsDirectory = "file-uploads"
	// multipartMemory is how much of a multipart body is held in memory while parsing.
	multipartMemory = 1 << 20
)

// BodyOptions configure the body handler.
type BodyOptions struct {
	// Limit is the maximum body size. Larger bodies fail the request with 413.
	// Zero uses DefaultBodyLimit, a negative value disables the limit.
	Limit int64
	// UploadsDirectory receives the files of multipart requests.
	UploadsDirectory string
	// HandleFileUploads enables saving multipart files.
	HandleFileUploads bool
	// DeleteUploadedFilesOnEnd removes the saved files once the response ended.
	DeleteUploadedFilesOnEnd bool
}

// Body reads the request body into the context. Url encoded and multipart forms are
// parsed into the request form values and multipart files are saved to the uploads
// directory and exposed by FileUploads.
func Body(opts BodyOptions) router.Handler {
	if opts.Limit == 0 {
		opts.Limit = DefaultBodyLimit
	}
	if opts.UploadsDirectory == "" {
		opts.UploadsDirectory = DefaultUploadsDirectory
	}
	return func(ctx *router.RoutingContext) {
		req := ctx.Request()
		if req.Body == nil || req.Body == http.NoBody || ctx.Body() != nil {
			_ = ctx.Next()
			return
		}
		if opts.Limit > 0 {
			if req.ContentLength > opts.Limit {
				_ = ctx.Fail(http.StatusRequestEntityTooLarge)
				return
			}
			req.Body = http.MaxBytesReader(nil, req.Body, opts.Limit)
		}
		mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			if err := parseMultipart(ctx, opts); err != nil {
				_ = ctx.FailWithError(bodyStatus(err), err)
				return
			}
			_ = ctx.Next()
			return
		}
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			_ = ctx.FailWithError(bodyStatus(err), err)
			return
		}
		ctx.SetBody(body)
		// later readers of the request see the whole body again
		req.Body = io.NopCloser(bytes.NewReader(body))
		if mediaType == "application/x-www-form-urlencoded" {
			if err := req.ParseForm(); err != nil {
				_ = ctx.FailWithError(http.StatusBadRequest, err)
				return
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		_ = ctx.Next()
	}
}

func parseMultipart(ctx *router.RoutingContext, opts BodyOptions) error {
	req := ctx.Request()
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		return err
	}
	ctx.SetBody([]byte{})
	form := req.MultipartForm
	if !opts.HandleFileUploads || form == nil || len(form.File) == 0 {
		return nil
	}
	if err := os.MkdirAll(opts.UploadsDirectory, 0755); err != nil {
		return err
	}
	var uploads []router.FileUpload
	for name, headers := range form.File {
		for _, fh := range headers {
			saved, err := saveUpload(fh, opts.UploadsDirectory)
			if err != nil {
				removeUploads(uploads)
				return err
			}
			uploads = append(uploads, router.FileUpload{
				Name:             name,
				FileName:         fh.Filename,
				ContentType:      fh.Header.Get("Content-Type"),
				Size:             fh.Size,
				UploadedFileName: saved,
			})
		}
	}
	_ = form.RemoveAll()
	ctx.SetFileUploads(uploads)
	if opts.DeleteUploadedFilesOnEnd {
		ctx.AddBodyEndHandler(func() {
			removeUploads(uploads)
		})
	}
	return nil
}

func saveUpload(fh *multipart.FileHeader, dir string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	dst, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err = io.Copy(dst, src); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func removeUploads(uploads []router.FileUpload) {
	for _, u := range uploads {
		_ = os.Remove(u.UploadedFileName)
	}
}

func bodyStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
