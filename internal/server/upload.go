package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/energyledger/internal/upload"
)

// multipartOverhead is the slack allowed on top of MaxUploadBytes for
// multipart boundaries and part headers.
const multipartOverhead = 64 << 10

const uploadFormField = "file"

func (s *Server) UploadRecords(c *gin.Context) {
	if limit := s.uploadSvc.Limits().MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}

	fileHeader, err := c.FormFile(uploadFormField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			AbortWithError(c, upload.ErrUploadTooLarge)
			return
		}
		AbortWithError(c, ErrMissingFile)
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !upload.IsAcceptedFile(fileHeader.Filename, contentType) {
		AbortWithError(c, &RequestError{
			Code:    CodeInvalidFileType,
			Message: "Invalid file type; expected CSV",
			Details: gin.H{"mimetype": contentType, "originalname": fileHeader.Filename},
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer file.Close()

	result, err := s.uploadSvc.Upload(c.Request.Context(), upload.Source{
		Name:        fileHeader.Filename,
		ContentType: contentType,
		Body:        file,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondCreated(c, gin.H{
		"count":    result.Count,
		"uploadId": result.UploadID,
		"format":   result.Format,
	}, "Data replaced successfully")
}
