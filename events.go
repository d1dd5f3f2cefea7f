// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// eventMessage is one message from the Arvados websocket event
// stream.
type eventMessage struct {
	Status     int
	ObjectUUID string `json:"object_uuid"`
	EventType  string `json:"event_type"`
	Properties struct {
		Text string
	}
}

// lines returns the non-empty log lines carried by a stderr or
// crunch-run event.
func (msg eventMessage) lines() []string {
	var lines []string
	for _, line := range strings.Split(msg.Properties.Text, "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

var reconnectDelay = 5 * time.Second

// eventStream delivers events about subscribed objects (container
// requests and containers) from the cluster's websocket server,
// reconnecting and resubscribing when the connection drops.
type eventStream struct {
	*arvados.Client
	// dial connects to the websocket server. If nil, the server
	// is found through the cluster config.
	dial func() (*websocket.Conn, error)

	notifying map[string]map[chan<- eventMessage]int
	wantClose chan struct{}
	wsconn    *websocket.Conn
	mtx       sync.Mutex
}

func eventRequest(method, uuid string) map[string]interface{} {
	return map[string]interface{}{
		"method": method,
		"filters": [][]interface{}{
			{"object_uuid", "=", uuid},
			{"event_type", "in", []string{"stderr", "crunch-run", "update"}},
		},
	}
}

// Subscribe sends events about uuid to ch. Subscribing the same
// {ch, uuid} pair twice needs two Unsubscribe calls to undo.
func (es *eventStream) Subscribe(ch chan<- eventMessage, uuid string) {
	es.mtx.Lock()
	defer es.mtx.Unlock()
	if es.notifying == nil {
		es.notifying = map[string]map[chan<- eventMessage]int{}
		es.wantClose = make(chan struct{})
		go es.run()
	}
	chmap := es.notifying[uuid]
	if chmap == nil {
		chmap = map[chan<- eventMessage]int{}
		es.notifying[uuid] = chmap
		if es.wsconn != nil {
			go json.NewEncoder(es.wsconn).Encode(eventRequest("subscribe", uuid))
		}
	}
	chmap[ch]++
}

func (es *eventStream) Unsubscribe(ch chan<- eventMessage, uuid string) {
	es.mtx.Lock()
	defer es.mtx.Unlock()
	chmap := es.notifying[uuid]
	if n := chmap[ch] - 1; n > 0 {
		chmap[ch] = n
		return
	} else if n < 0 {
		return
	}
	delete(chmap, ch)
	if len(chmap) > 0 {
		return
	}
	delete(es.notifying, uuid)
	if es.wsconn != nil {
		go json.NewEncoder(es.wsconn).Encode(eventRequest("unsubscribe", uuid))
	}
}

// Close disconnects and stops delivering events.
func (es *eventStream) Close() {
	es.mtx.Lock()
	defer es.mtx.Unlock()
	if es.notifying == nil {
		return
	}
	es.notifying = nil
	close(es.wantClose)
	if es.wsconn != nil {
		es.wsconn.Close()
		es.wsconn = nil
	}
}

func (es *eventStream) connect() (*websocket.Conn, error) {
	if es.dial != nil {
		return es.dial()
	}
	var cluster arvados.Cluster
	err := es.RequestAndDecode(&cluster, "GET", arvados.EndpointConfigGet.Path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("error getting cluster config: %w", err)
	}
	wsURL := cluster.Services.Websocket.ExternalURL
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.Path = "/websocket"
	wsURLNoToken := wsURL.String()
	wsURL.RawQuery = url.Values{"api_token": []string{es.AuthToken}}.Encode()
	conn, err := websocket.Dial(wsURL.String(), "", cluster.Services.Controller.ExternalURL.String())
	if err != nil {
		return nil, err
	}
	log.Debugf("connected to websocket at %s", wsURLNoToken)
	return conn, nil
}

func (es *eventStream) run() {
	es.mtx.Lock()
	wantClose := es.wantClose
	es.mtx.Unlock()
	for {
		conn, err := es.connect()
		if err != nil {
			log.Warnf("websocket connection error: %s", err)
			select {
			case <-wantClose:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		es.mtx.Lock()
		select {
		case <-wantClose:
			es.mtx.Unlock()
			conn.Close()
			return
		default:
		}
		es.wsconn = conn
		resubscribe := make([]string, 0, len(es.notifying))
		for uuid := range es.notifying {
			resubscribe = append(resubscribe, uuid)
		}
		es.mtx.Unlock()
		go func() {
			enc := json.NewEncoder(conn)
			for _, uuid := range resubscribe {
				enc.Encode(eventRequest("subscribe", uuid))
			}
		}()

		dec := json.NewDecoder(conn)
		for {
			var msg eventMessage
			err := dec.Decode(&msg)
			select {
			case <-wantClose:
				return
			default:
			}
			if err != nil {
				log.Debugf("error decoding websocket message: %s", err)
				es.mtx.Lock()
				es.wsconn = nil
				es.mtx.Unlock()
				conn.Close()
				break
			}
			es.mtx.Lock()
			for ch := range es.notifying[msg.ObjectUUID] {
				ch := ch
				go func() {
					select {
					case ch <- msg:
					case <-wantClose:
					}
				}()
			}
			es.mtx.Unlock()
		}
	}
}
