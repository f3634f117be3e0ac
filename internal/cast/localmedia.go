// SPDX-License-Identifier: GPL-3.0-only

package cast

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LocalMediaAppID is the generic local media receiver application.
const LocalMediaAppID = "D29D8DD1"

// redirectorURL is a public forwarding service: the receiver app loads its
// page from there, which redirects to our LAN-local receiver page. This
// sidesteps the CORS restrictions of serving the page from a LAN origin.
const redirectorURL = "https://lamarqe.pythonanywhere.com/storeforwardurl"

// redirectorTimeout bounds the forward-URL registration.
const redirectorTimeout = 30 * time.Second

// PublishReceiverURL registers receiverURL with the public redirector so
// the next app launch lands on our receiver page.
func PublishReceiverURL(ctx context.Context, client *http.Client, receiverURL string) error {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, redirectorTimeout)
	defer cancel()

	form := url.Values{"localForwardURL": {receiverURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, redirectorURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("publish receiver url: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish receiver url: unexpected status %d", resp.StatusCode)
	}
	return nil
}
