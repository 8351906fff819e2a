// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"git.arvados.org/arvados.git/lib/cmd"
	"git.arvados.org/arvados.git/sdk/go/arvados"
	"git.arvados.org/arvados.git/sdk/go/arvadosclient"
	"git.arvados.org/arvados.git/sdk/go/keepclient"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/websocket"
)

type eventMessage struct {
	Status     int
	ObjectUUID string `json:"object_uuid"`
	EventType  string `json:"event_type"`
}

// eventListener delivers websocket events about a single container
// to ch, reconnecting as needed, until Close is called.
type eventListener struct {
	client    *arvados.Client
	ch        chan eventMessage
	mtx       sync.Mutex
	uuid      string
	conn      *websocket.Conn
	wantClose chan struct{}
}

func newEventListener(client *arvados.Client) *eventListener {
	el := &eventListener{
		client:    client,
		ch:        make(chan eventMessage, 16),
		wantClose: make(chan struct{}),
	}
	go el.run()
	return el
}

func subscribeMessage(method, uuid string) map[string]interface{} {
	return map[string]interface{}{
		"method": method,
		"filters": [][]interface{}{
			{"object_uuid", "=", uuid},
			{"event_type", "in", []string{"stderr", "crunch-run", "update"}},
		},
	}
}

// Follow switches the subscription to the given container UUID.
func (el *eventListener) Follow(uuid string) {
	el.mtx.Lock()
	defer el.mtx.Unlock()
	if uuid == el.uuid {
		return
	}
	if el.conn != nil {
		enc := json.NewEncoder(el.conn)
		if el.uuid != "" {
			enc.Encode(subscribeMessage("unsubscribe", el.uuid))
		}
		enc.Encode(subscribeMessage("subscribe", uuid))
	}
	el.uuid = uuid
}

func (el *eventListener) Close() {
	el.mtx.Lock()
	defer el.mtx.Unlock()
	select {
	case <-el.wantClose:
	default:
		close(el.wantClose)
		if el.conn != nil {
			el.conn.Close()
		}
	}
}

func (el *eventListener) run() {
	for {
		select {
		case <-el.wantClose:
			return
		default:
		}
		conn, err := el.dial()
		if err != nil {
			log.Warnf("websocket connection error: %s", err)
			time.Sleep(5 * time.Second)
			continue
		}
		el.mtx.Lock()
		el.conn = conn
		if el.uuid != "" {
			json.NewEncoder(conn).Encode(subscribeMessage("subscribe", el.uuid))
		}
		el.mtx.Unlock()

		dec := json.NewDecoder(conn)
		for {
			var msg eventMessage
			if err := dec.Decode(&msg); err != nil {
				log.Debugf("websocket: %s", err)
				break
			}
			select {
			case el.ch <- msg:
			default:
				// Receiver is busy; it polls anyway.
			}
		}
		el.mtx.Lock()
		el.conn = nil
		el.mtx.Unlock()
		conn.Close()
	}
}

func (el *eventListener) dial() (*websocket.Conn, error) {
	var cluster arvados.Cluster
	err := el.client.RequestAndDecode(&cluster, "GET", arvados.EndpointConfigGet.Path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("getting cluster config: %w", err)
	}
	wsURL := cluster.Services.Websocket.ExternalURL
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.Path = "/websocket"
	wsURL.RawQuery = url.Values{"api_token": []string{el.client.AuthToken}}.Encode()
	return websocket.Dial(wsURL.String(), "", cluster.Services.Controller.ExternalURL.String())
}

// arvadosContainerRunner runs one nnexp subcommand in an Arvados
// container, with /mnt/output as the output collection.
type arvadosContainerRunner struct {
	Client      *arvados.Client
	Name        string
	OutputName  string
	ProjectUUID string
	APIAccess   bool
	VCPUs       int
	RAM         int64
	Args        []string
	Mounts      map[string]map[string]interface{}
	Priority    int
	KeepCache   int // cache buffers per VCPU (0 for default)
}

func (runner *arvadosContainerRunner) Run() (string, error) {
	return runner.RunContext(context.Background())
}

func (runner *arvadosContainerRunner) RunContext(ctx context.Context) (string, error) {
	if runner.ProjectUUID == "" {
		return "", errors.New("cannot run arvados container: ProjectUUID not provided")
	}
	cmdUUID, err := runner.makeCommandCollection()
	if err != nil {
		return "", err
	}
	mounts := map[string]map[string]interface{}{
		"/mnt/output": {"kind": "collection", "writable": true},
		"/mnt/cmd":    {"kind": "collection", "uuid": cmdUUID},
	}
	for path, mnt := range runner.Mounts {
		mounts[path] = mnt
	}
	priority := runner.Priority
	if priority < 1 {
		priority = 500
	}
	keepCache := runner.KeepCache
	if keepCache < 1 {
		keepCache = 2
	}
	vcpus := runner.VCPUs
	if vcpus < 1 {
		vcpus = 1
	}
	rc := arvados.RuntimeConstraints{
		API:          runner.APIAccess,
		VCPUs:        vcpus,
		RAM:          runner.RAM,
		KeepCacheRAM: (1 << 26) * int64(keepCache) * int64(vcpus),
	}
	var outname interface{}
	if runner.OutputName != "" {
		outname = runner.OutputName
	}
	var cr arvados.ContainerRequest
	err = runner.Client.RequestAndDecodeContext(ctx, &cr, "POST", "arvados/v1/container_requests", nil, map[string]interface{}{
		"container_request": map[string]interface{}{
			"owner_uuid":          runner.ProjectUUID,
			"name":                runner.Name,
			"container_image":     "nnexp-runtime",
			"command":             append([]string{"/mnt/cmd/nnexp"}, runner.Args...),
			"mounts":              mounts,
			"use_existing":        true,
			"output_path":         "/mnt/output",
			"output_name":         outname,
			"runtime_constraints": rc,
			"priority":            priority,
			"state":               arvados.ContainerRequestStateCommitted,
			"environment": map[string]string{
				"GOMAXPROCS": fmt.Sprintf("%d", vcpus),
			},
			"container_count_max": 1,
		},
	})
	if err != nil {
		return "", err
	}
	log.Printf("container request UUID: %s", cr.UUID)

	events := newEventListener(runner.Client)
	defer events.Close()
	logOffset := int64(0)
	lastState := cr.State
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for cr.State != arvados.ContainerRequestStateFinal {
		select {
		case <-ctx.Done():
			runner.cancel(&cr)
			return "", ctx.Err()
		case <-ticker.C:
		case <-events.ch:
		}
		err := runner.Client.RequestAndDecodeContext(ctx, &cr, "GET", "arvados/v1/container_requests/"+cr.UUID, nil, nil)
		if err != nil {
			log.Printf("error getting container request: %s", err)
			continue
		}
		if cr.State != lastState {
			log.Printf("container request state: %s", cr.State)
			lastState = cr.State
		}
		if cr.ContainerUUID != "" {
			events.Follow(cr.ContainerUUID)
			logOffset = runner.copyLog(&cr, logOffset)
		}
	}

	var c arvados.Container
	err = runner.Client.RequestAndDecodeContext(ctx, &c, "GET", "arvados/v1/containers/"+cr.ContainerUUID, nil, nil)
	if err != nil {
		return "", err
	} else if c.State != arvados.ContainerStateComplete {
		return "", fmt.Errorf("container did not complete: %s", c.State)
	} else if c.ExitCode != 0 {
		return "", fmt.Errorf("container exited %d", c.ExitCode)
	}
	return cr.OutputUUID, nil
}

func (runner *arvadosContainerRunner) cancel(cr *arvados.ContainerRequest) {
	err := runner.Client.RequestAndDecode(cr, "PATCH", "arvados/v1/container_requests/"+cr.UUID, nil, map[string]interface{}{
		"container_request": map[string]interface{}{"priority": 0},
	})
	if err != nil {
		log.Errorf("error while trying to cancel container request %s: %s", cr.UUID, err)
	}
}

// copyLog relays new lines of the container's stderr log, starting
// at byte offset, and returns the new offset.
func (runner *arvadosContainerRunner) copyLog(cr *arvados.ContainerRequest, offset int64) int64 {
	req, err := http.NewRequest("GET", "https://"+runner.Client.APIHost+"/arvados/v1/container_requests/"+cr.UUID+"/log/"+cr.ContainerUUID+"/stderr.txt", nil)
	if err != nil {
		return offset
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	resp, err := runner.Client.Do(req)
	if err != nil {
		log.Debugf("error getting log data: %s", err)
		return offset
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return offset
	}
	logdata, err := io.ReadAll(resp.Body)
	if err != nil {
		return offset
	}
	for {
		eol := bytes.IndexByte(logdata, '\n')
		if eol < 0 {
			break
		}
		if eol > 0 {
			log.Print(string(logdata[:eol]))
		}
		logdata = logdata[eol+1:]
		offset += int64(eol + 1)
	}
	return offset
}

var collectionInPathRe = regexp.MustCompile(`^(.*/)?([0-9a-f]{32}\+[0-9]+|[0-9a-z]{5}-[0-9a-z]{5}-[0-9a-z]{15})(/.*)?$`)

// TranslatePaths rewrites each path that refers to a collection into
// the path where that collection will be mounted in the container.
func (runner *arvadosContainerRunner) TranslatePaths(paths ...*string) error {
	if runner.Mounts == nil {
		runner.Mounts = make(map[string]map[string]interface{})
	}
	for _, path := range paths {
		if *path == "" || *path == "-" {
			continue
		}
		m := collectionInPathRe.FindStringSubmatch(*path)
		if m == nil {
			return fmt.Errorf("cannot find uuid in path: %q", *path)
		}
		collID := m[2]
		if _, ok := runner.Mounts["/mnt/"+collID]; !ok {
			mnt := map[string]interface{}{"kind": "collection"}
			if len(collID) == 27 {
				mnt["uuid"] = collID
			} else {
				mnt["portable_data_hash"] = collID
			}
			runner.Mounts["/mnt/"+collID] = mnt
		}
		*path = "/mnt/" + collID + m[3]
	}
	return nil
}

var mtxMakeCommandCollection sync.Mutex

// makeCommandCollection uploads the running binary to the project,
// reusing an existing collection with the same version and hash.
func (runner *arvadosContainerRunner) makeCommandCollection() (string, error) {
	mtxMakeCommandCollection.Lock()
	defer mtxMakeCommandCollection.Unlock()
	exe, err := os.ReadFile("/proc/self/exe")
	if err != nil {
		return "", err
	}
	b2 := fmt.Sprintf("%x", blake2b.Sum256(exe))
	cname := "nnexp " + cmd.Version.String()
	var existing arvados.CollectionList
	err = runner.Client.RequestAndDecode(&existing, "GET", "arvados/v1/collections", nil, arvados.ListOptions{
		Limit: 1,
		Count: "none",
		Filters: []arvados.Filter{
			{Attr: "name", Operator: "=", Operand: cname},
			{Attr: "owner_uuid", Operator: "=", Operand: runner.ProjectUUID},
			{Attr: "properties.blake2b", Operator: "=", Operand: b2},
		},
	})
	if err != nil {
		return "", err
	}
	if len(existing.Items) > 0 {
		log.Printf("using nnexp binary in existing collection %s", existing.Items[0].UUID)
		return existing.Items[0].UUID, nil
	}
	log.Printf("writing nnexp binary to new collection %q", cname)
	ac, err := arvadosclient.New(runner.Client)
	if err != nil {
		return "", err
	}
	var coll arvados.Collection
	fs, err := coll.FileSystem(runner.Client, keepclient.New(ac))
	if err != nil {
		return "", err
	}
	f, err := fs.OpenFile("nnexp", os.O_CREATE|os.O_WRONLY, 0777)
	if err != nil {
		return "", err
	}
	if _, err = f.Write(exe); err != nil {
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	mtxt, err := fs.MarshalManifest(".")
	if err != nil {
		return "", err
	}
	err = runner.Client.RequestAndDecode(&coll, "POST", "arvados/v1/collections", nil, map[string]interface{}{
		"collection": map[string]interface{}{
			"owner_uuid":    runner.ProjectUUID,
			"manifest_text": mtxt,
			"name":          cname,
			"properties":    map[string]interface{}{"blake2b": b2},
		},
	})
	if err != nil {
		return "", err
	}
	log.Printf("stored nnexp binary in new collection %s", coll.UUID)
	return coll.UUID, nil
}

// zopen returns a reader for the given file, using the arvados API
// instead of arv-mount/fuse where applicable, and transparently
// decompressing the input if fnm ends with ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return gzipr{rdr, f}, nil
}

// gzipr closes both the decompressor and the underlying file.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

var (
	keepClient *keepclient.KeepClient
	siteFS     arvados.CustomFileSystem
	siteFSMtx  sync.Mutex
)

// open reads local files directly, and collection paths through the
// Arvados site filesystem when ARVADOS_API_HOST is set.
func open(fnm string) (io.ReadCloser, error) {
	if os.Getenv("ARVADOS_API_HOST") == "" {
		return os.Open(fnm)
	}
	m := collectionInPathRe.FindStringSubmatch(fnm)
	if m == nil {
		return os.Open(fnm)
	}
	collectionUUID, collectionPath := m[2], m[3]

	siteFSMtx.Lock()
	defer siteFSMtx.Unlock()
	if siteFS == nil {
		log.Info("setting up Arvados client")
		client := arvados.NewClientFromEnv()
		ac, err := arvadosclient.New(client)
		if err != nil {
			return nil, err
		}
		ac.Client = arvados.DefaultSecureClient
		keepClient = keepclient.New(ac)
		keepClient.HTTPClient = arvados.DefaultSecureClient
		keepClient.BlockCache = &keepclient.BlockCache{MaxBlocks: 4}
		siteFS = client.SiteFileSystem(keepClient)
	}
	log.Infof("reading %q from %s using Arvados client", collectionPath, collectionUUID)
	return siteFS.Open("by_id/" + collectionUUID + collectionPath)
}
