package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/buger/jsonparser"
)

const (
	ContentEncodingHeader = "Content-Encoding"
	AcceptEncodingHeader  = "Accept-Encoding"

	maxErrorBodySize = 4096
)

var (
	DefaultNetHttpClient = &http.Client{
		Timeout: time.Second * 10,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 1024,
			TLSHandshakeTimeout: 0 * time.Second,
		},
	}
)

type NetHttpClient struct {
	client *http.Client
}

func NewNetHttpClient(client *http.Client) *NetHttpClient {
	if client == nil {
		client = DefaultNetHttpClient
	}
	return &NetHttpClient{
		client: client,
	}
}

func (n *NetHttpClient) Do(ctx context.Context, requestInput []byte, out io.Writer) error {
	return Do(n.client, ctx, requestInput, out)
}

func Do(client *http.Client, ctx context.Context, requestInput []byte, out io.Writer) (err error) {
	request, err := buildRequest(ctx, requestInput)
	if err != nil {
		return err
	}

	response, err := client.Do(request)
	if err != nil {
		return err
	}

	respReader, err := respBodyReader(request, response)
	if err != nil {
		_ = response.Body.Close()
		return err
	}
	defer respReader.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(respReader, maxErrorBodySize))
		return &StatusError{StatusCode: response.StatusCode, Body: body}
	}

	_, err = io.Copy(out, respReader)
	return
}

func requestInputParams(input []byte) (url, method, body, headers []byte) {
	jsonparser.EachKey(input, func(i int, bytes []byte, valueType jsonparser.ValueType, err error) {
		switch i {
		case 0:
			url = bytes
		case 1:
			method = bytes
		case 2:
			body = bytes
		case 3:
			headers = bytes
		}
	}, inputPaths...)
	return
}

func buildRequest(ctx context.Context, requestInput []byte) (*http.Request, error) {
	url, method, body, headers := requestInputParams(requestInput)
	if len(url) == 0 {
		return nil, errors.New("request input has no url")
	}
	if len(method) == 0 {
		method = []byte(http.MethodPost)
	}

	request, err := http.NewRequestWithContext(ctx, string(method), string(url), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if headers != nil {
		err = jsonparser.ObjectEach(headers, func(key []byte, value []byte, dataType jsonparser.ValueType, offset int) error {
			_, err := jsonparser.ArrayEach(value, func(value []byte, dataType jsonparser.ValueType, offset int, err error) {
				if err != nil {
					return
				}
				if len(value) == 0 {
					return
				}
				request.Header.Add(string(key), string(value))
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	request.Header.Set("accept", "application/json")
	request.Header.Set("content-type", "application/json")
	request.Header.Set(AcceptEncodingHeader, "gzip, deflate")

	return request, nil
}

func respBodyReader(req *http.Request, resp *http.Response) (io.ReadCloser, error) {
	if req.Header.Get(AcceptEncodingHeader) == "" {
		return resp.Body, nil
	}

	switch resp.Header.Get(ContentEncodingHeader) {
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &decodedBody{ReadCloser: reader, body: resp.Body}, nil
	case "deflate":
		return &decodedBody{ReadCloser: flate.NewReader(resp.Body), body: resp.Body}, nil
	}

	return resp.Body, nil
}

// decodedBody closes the decoder and the response body it reads from.
type decodedBody struct {
	io.ReadCloser
	body io.Closer
}

func (d *decodedBody) Close() error {
	err := d.ReadCloser.Close()
	if bodyErr := d.body.Close(); err == nil {
		err = bodyErr
	}
	return err
}
