// Copyright 2022-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/brutella/dnssd"
	"github.com/shirou/gopsutil/disk"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
)

var (
	v       = func(string, ...interface{}) {}
	cancel  = func() {}
	clients = func() int { return 0 }
	cache   string
	tenants = 0
	tenChan = make(chan int, 1)
)

// dsQuery names the service type, domain and TXT requirements a
// disklessd must match to be chosen.
type dsQuery struct {
	Type   string
	Domain string
	Text   map[string][]string
}

const (
	DsDefault   = "dnssd:"
	DefaultType = "_diskless._tcp"
	dsTimeout   = 1 * time.Second
	timeFormat  = "15:04:05.000"
	// TXT values are refreshed this often even with no tenant change.
	dsUpdate = 60 * time.Second
)

// Verbose sets the debug print function.
func Verbose(f func(string, ...interface{})) {
	v = f
}

// required reports whether every key in req has one of its allowed
// values in src.
func required(src map[string]string, req map[string][]string) bool {
	for k := range req {
		if !slices.Contains(req[k], src[k]) {
			return false
		}
	}
	return true
}

// Parse turns a dnssd: URI into a query. Host is the domain, the
// path is the service type and query parameters are TXT
// requirements. arch and os default to those of this binary.
func Parse(uri string) (dsQuery, error) {
	result := dsQuery{
		Type:   DefaultType,
		Domain: "local",
	}

	u, err := url.Parse(uri)
	if err != nil {
		return result, fmt.Errorf("parsing %q: %w", uri, err)
	}

	if u.Scheme != "dnssd" {
		return result, fmt.Errorf("%q: scheme is %q, not dnssd", uri, u.Scheme)
	}

	if u.Host != "" {
		result.Domain = u.Host
	}
	if u.Path != "" {
		result.Type = strings.Trim(u.Path, "/")
	}

	result.Text = u.Query()

	if len(result.Text["arch"]) == 0 {
		result.Text["arch"] = []string{runtime.GOARCH}
	}

	if len(result.Text["os"]) == 0 {
		result.Text["os"] = []string{runtime.GOOS}
	}

	return result, nil
}

// Lookup browses for a disklessd matching query and returns the host
// and port of the first one seen. dnssd:?arch=arm64, for example,
// picks any arm64 disklessd in the local domain.
func Lookup(query dsQuery) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dsTimeout)
	defer cancel()

	service := fmt.Sprintf("%s.%s.", strings.Trim(query.Type, "."), strings.Trim(query.Domain, "."))

	v("browsing for %s", service)

	respCh := make(chan *dnssd.BrowseEntry, 1)

	addFn := func(e dnssd.BrowseEntry) {
		v("%s	found %s on %s at %v, TXT %v", time.Now().Format(timeFormat), e.Name, e.IfaceName, e.IPs, e.Text)
		if required(e.Text, query.Text) {
			select {
			case respCh <- &e:
			default:
			}
		}
	}

	rmvFn := func(e dnssd.BrowseEntry) {
		v("%s	lost %s on %s", time.Now().Format(timeFormat), e.Name, e.IfaceName)
	}

	go func() {
		// Once browsing ends, a nil entry means nothing matched.
		if err := dnssd.LookupType(ctx, service, addFn, rmvFn); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			v("dnssd: browsing %s: %v", service, err)
		}
		select {
		case respCh <- nil:
		default:
		}
	}()

	e := <-respCh
	if e == nil {
		return "", "", fmt.Errorf("dnssd: no %s matches %v", service, query.Text)
	}

	if len(e.IPs) > 1 {
		v("%s has addresses %v, using %v", e.Name, e.IPs, e.IPs[0])
	}
	if len(e.IPs) == 0 {
		return "", "", fmt.Errorf("dnssd: %s has no address", e.Name)
	}

	return e.IPs[0].String(), strconv.Itoa(e.Port), nil
}

// ParseKv splits "k=v,k2" into TXT values. A key with no value is
// "true".
func ParseKv(arg string) map[string]string {
	txt := make(map[string]string)
	if len(arg) == 0 {
		return txt
	}
	for _, pair := range strings.Split(arg, ",") {
		z := strings.SplitN(pair, "=", 2)
		if len(z) > 1 {
			txt[z[0]] = z[1]
		} else {
			txt[z[0]] = "true"
		}
	}

	return txt
}

// Unregister stops advertising.
func Unregister() {
	v("dnssd: withdrawing service")
	cancel()
}

// DefaultInstance is the instance name used when none is given.
func DefaultInstance() string {
	h, err := os.Hostname()
	if err != nil {
		return "disklessd"
	}
	return h + "-disklessd"
}

// SetClients makes f the source of the "clients" TXT value, the
// number of clients with an image.
func SetClients(f func() int) {
	clients = f
}

// SetCache makes the free space of the file system holding dir the
// "cache_avail" TXT value.
func SetCache(dir string) {
	cache = dir
}

// UpdateSysInfo fills in the load, memory, tenant, client and cache
// TXT values.
func UpdateSysInfo(txtFlag map[string]string) {
	var sysinfo unix.Sysinfo_t
	if err := unix.Sysinfo(&sysinfo); err != nil {
		v("sysinfo: %v", err)
		return
	}

	txtFlag["mem_avail"] = strconv.FormatUint(uint64(sysinfo.Freeram), 10)
	txtFlag["mem_total"] = strconv.FormatUint(uint64(sysinfo.Totalram), 10)
	txtFlag["mem_unit"] = strconv.FormatUint(uint64(sysinfo.Unit), 10)
	txtFlag["load1"] = strconv.FormatUint(uint64(sysinfo.Loads[0]), 10)
	txtFlag["load5"] = strconv.FormatUint(uint64(sysinfo.Loads[1]), 10)
	txtFlag["load15"] = strconv.FormatUint(uint64(sysinfo.Loads[2]), 10)
	txtFlag["load_ratio"] = fmt.Sprintf("%.6f", float64(sysinfo.Loads[1])/float64(runtime.NumCPU()))
	txtFlag["tenants"] = strconv.Itoa(tenants)
	txtFlag["clients"] = strconv.Itoa(clients())
	if cache != "" {
		if u, err := disk.Usage(cache); err == nil {
			txtFlag["cache_avail"] = strconv.FormatUint(u.Free, 10)
		} else {
			v("disk.Usage(%q): %v", cache, err)
		}
	}

	v("dnssd: TXT %v", txtFlag)
}

// DefaultTxt sets arch, os and cores unless already given.
func DefaultTxt(txtFlag map[string]string) {
	if len(txtFlag["arch"]) == 0 {
		txtFlag["arch"] = runtime.GOARCH
	}

	if len(txtFlag["os"]) == 0 {
		txtFlag["os"] = runtime.GOOS
	}

	if len(txtFlag["cores"]) == 0 {
		txtFlag["cores"] = strconv.Itoa(runtime.NumCPU())
	}
}

// Tenant changes the advertised tenant count by delta. Register must
// have been called.
func Tenant(delta int) {
	v("tenant delta %d", delta)
	tenChan <- delta
}

// Register advertises disklessd on portFlag until Unregister.
func Register(instanceFlag, domainFlag, serviceFlag, interfaceFlag string, portFlag int, txtFlag map[string]string) error {

	if len(serviceFlag) == 0 {
		serviceFlag = DefaultType
	}
	if len(instanceFlag) == 0 {
		instanceFlag = DefaultInstance()
	}

	v("dnssd: advertising %s.%s.%s.", strings.Trim(instanceFlag, "."), strings.Trim(serviceFlag, "."), strings.Trim(domainFlag, "."))

	ctx, ctxCancel := context.WithCancel(context.Background())
	cancel = ctxCancel

	resp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("dnssd: responder: %w", err)
	}

	ifaces := []string{}
	if len(interfaceFlag) > 0 {
		ifaces = append(ifaces, interfaceFlag)
	}

	DefaultTxt(txtFlag)
	UpdateSysInfo(txtFlag)

	cfg := dnssd.Config{
		Name:   instanceFlag,
		Type:   serviceFlag,
		Domain: domainFlag,
		Port:   portFlag,
		Ifaces: ifaces,
		Text:   txtFlag,
	}
	srv, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("dnssd: service %q: %w", instanceFlag, err)
	}

	// Tenant counts are drained from the start, so sessions never
	// wait on the responder.
	added := make(chan dnssd.ServiceHandle, 1)
	go func() {
		time.Sleep(1 * time.Second)
		handle, err := resp.Add(srv)
		if err != nil {
			v("dnssd: %v", err)
			return
		}
		v("%s	registered %s", time.Now().Format(timeFormat), handle.Service().ServiceInstanceName())
		added <- handle
	}()
	go func() {
		var handle dnssd.ServiceHandle
		update := func() {
			UpdateSysInfo(txtFlag)
			if handle != nil {
				handle.UpdateText(txtFlag, resp)
			}
		}
		t := time.NewTicker(dsUpdate)
		defer t.Stop()
		for {
			select {
			case handle = <-added:
			case delta := <-tenChan:
				tenants += delta
				update()
			case <-t.C:
				update()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := resp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
			v("dnssd: responder: %v", err)
		}
	}()

	return nil
}
