package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxUploadSize is the default request body limit.
const MaxUploadSize = 8 << 20

const multipartMemory = 8 << 20

var (
	errInvalidRequest    = errors.New("invalid request")
	errPayloadTooLarge   = errors.New("payload too large")
	errUnsupportedFormat = errors.New("unsupported image type")
)

// capture is an uploaded image together with the caller supplied parameters.
type capture struct {
	Image  []byte
	Params map[string]json.RawMessage
}

// readCapture accepts either a JSON body with a base64 "image" field or a multipart
// form with an "image" file part and an optional "params" JSON field.
func readCapture(c *gin.Context, maxBytes int64) (*capture, error) {
	if c.Request.ContentLength > maxBytes {
		return nil, errPayloadTooLarge
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

	switch c.ContentType() {
	case gin.MIMEJSON:
		return readJSONCapture(c)
	case gin.MIMEMultipartPOSTForm:
		return readMultipartCapture(c)
	default:
		return nil, errInvalidRequest
	}
}

func readJSONCapture(c *gin.Context) (*capture, error) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		return nil, classifyReadError(err)
	}
	var encoded string
	if err := json.Unmarshal(body["image"], &encoded); err != nil || encoded == "" {
		return nil, errInvalidRequest
	}
	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errInvalidRequest
	}
	delete(body, "image")
	return &capture{Image: image, Params: body}, nil
}

func readMultipartCapture(c *gin.Context) (*capture, error) {
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		return nil, classifyReadError(err)
	}
	file, err := c.FormFile("image")
	if err != nil {
		return nil, errInvalidRequest
	}
	if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
		return nil, errUnsupportedFormat
	}

	src, err := file.Open()
	if err != nil {
		return nil, errInvalidRequest
	}
	defer src.Close()
	image, err := io.ReadAll(src)
	if err != nil {
		return nil, classifyReadError(err)
	}

	params := map[string]json.RawMessage{}
	if raw := c.PostForm("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, errInvalidRequest
		}
	}
	return &capture{Image: image, Params: params}, nil
}

func classifyReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errPayloadTooLarge
	}
	return errInvalidRequest
}

func captureErrorStatus(err error) int {
	switch {
	case errors.Is(err, errPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}
