// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package widgetapi

import (
	"context"
	"iter"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/boardhost/client"
)

// ICEServerFromTURN converts homeserver-issued TURN credentials into a
// WebRTC ICE server entry.
func ICEServerFromTURN(server client.TURNServer) webrtc.ICEServer {
	return webrtc.ICEServer{
		URLs:       server.URIs,
		Username:   server.Username,
		Credential: server.Password,
	}
}

// TURNServers returns a feed of TURN servers for the widget's calls.
//
// The feed is empty when the client is not polling or has nothing
// issued yet. Otherwise it yields the first entry of the current list,
// then the first entry of each newly issued list. If the consumer falls
// behind, only the newest list is kept. A fatal polling error is
// yielded once and ends the feed. Listeners are registered on the first
// pull and removed when the consumer stops or ctx is done.
func (a *Adapter) TURNServers(ctx context.Context) iter.Seq2[webrtc.ICEServer, error] {
	return func(yield func(webrtc.ICEServer, error) bool) {
		if !a.client.PollingTURNServers() {
			return
		}

		latest := make(chan webrtc.ICEServer, 1)
		fatal := make(chan error, 1)
		remove := a.client.AddTURNListener(func(servers []client.TURNServer) {
			if len(servers) == 0 {
				return
			}
			// The client emits from one goroutine, so after draining
			// there is always room.
			select {
			case <-latest:
			default:
			}
			latest <- ICEServerFromTURN(servers[0])
		}, func(err error, isFatal bool) {
			if !isFatal {
				return
			}
			select {
			case fatal <- err:
			default:
			}
		})
		defer remove()

		current := a.client.TURNServers()
		if len(current) == 0 {
			return
		}
		if !yield(ICEServerFromTURN(current[0]), nil) {
			return
		}

		for {
			select {
			case server := <-latest:
				if !yield(server, nil) {
					return
				}
			case err := <-fatal:
				yield(webrtc.ICEServer{}, err)
				return
			case <-ctx.Done():
				return
			}
		}
	}
}
