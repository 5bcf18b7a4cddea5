package mail

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"
)

// BuildMessage assembles a single-part RFC 5322 message with an HTML body.
// Header encoding (including non-ASCII subjects) is handled by go-message,
// and the body is marked text/html with UTF-8 charset.
func BuildMessage(from, to string, cc, bcc []string, subject, htmlBody string) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	if len(cc) > 0 {
		h.SetAddressList("Cc", addressList(cc))
	}
	if len(bcc) > 0 {
		h.SetAddressList("Bcc", addressList(bcc))
	}
	h.SetSubject(subject)
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := w.Write([]byte(htmlBody)); err != nil {
		w.Close()
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing message: %w", err)
	}

	return buf.Bytes(), nil
}

func addressList(addrs []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}
