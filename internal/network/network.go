// Package network maintains the host bridge, per-VM tap devices, and
// per-VM egress firewall chains. Link and address management goes through
// netlink directly rather than shelling out to ip(8); firewall rules go
// through go-iptables rather than shelling out to iptables(8).
//
// Egress rule order is deliberately preserved from the source design this
// was adapted from: ESTABLISHED,RELATED accept, then the allowlist, then a
// terminal DROP. Re-applying a chain's rules is a flush-then-rebuild, which
// is not transactionally isolated from concurrently in-flight traffic; a
// packet can in principle slip through during the gap. This is a known,
// accepted window, not a bug to silently fix.
package network

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"github.com/vishvananda/netlink"
)

// Allocation is a guest IP and tap name pair handed to a new VM.
type Allocation struct {
	GuestIP string
	TapName string
}

// Manager owns the shared bridge, the IP allocator, and per-VM chains.
type Manager struct {
	BridgeName string
	GatewayIP  string
	SubnetCIDR string

	mu      sync.Mutex
	nextOct int // next host-order last octet to allocate, starts at 2
	used    map[int]bool

	ipt *iptables.IPTables
}

// New constructs a network Manager for the given bridge/subnet. gatewayIP
// must be inside subnetCIDR.
func New(bridgeName, gatewayIP, subnetCIDR string) (*Manager, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("network: init iptables: %w", err)
	}
	return &Manager{
		BridgeName: bridgeName,
		GatewayIP:  gatewayIP,
		SubnetCIDR: subnetCIDR,
		nextOct:    2,
		used:       make(map[int]bool),
		ipt:        ipt,
	}, nil
}

// SeedAllocated marks the given guest IPs as already allocated so a
// restarted control plane does not reissue them. Called at startup with the
// guest IPs of every persisted non-DELETED VM.
func (m *Manager) SeedAllocated(guestIPs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ipStr := range guestIPs {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		ip4 := ip.To4()
		if ip4 == nil {
			continue
		}
		oct := int(ip4[3])
		m.used[oct] = true
		if oct >= m.nextOct {
			m.nextOct = oct + 1
		}
	}
}

// AllocateIP returns the next free guest IP / tap name pair within the
// subnet, monotonically, starting at host .2.
func (m *Manager) AllocateIP() (Allocation, error) {
	_, ipNet, err := net.ParseCIDR(m.SubnetCIDR)
	if err != nil {
		return Allocation{}, fmt.Errorf("network: parse subnet: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		oct := m.nextOct
		if oct > 254 {
			return Allocation{}, fmt.Errorf("network: subnet %s exhausted", m.SubnetCIDR)
		}
		m.nextOct++
		if m.used[oct] {
			continue
		}
		ip := make(net.IP, len(ipNet.IP))
		copy(ip, ipNet.IP.To4())
		ip[3] = byte(oct)
		m.used[oct] = true
		return Allocation{
			GuestIP: ip.String(),
			TapName: "tap-" + strconv.Itoa(oct),
		}, nil
	}
}

// Release frees a previously allocated guest IP so it may be reused.
func (m *Manager) Release(guestIP string) {
	ip := net.ParseIP(guestIP)
	if ip == nil {
		return
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return
	}
	m.mu.Lock()
	delete(m.used, int(ip4[3]))
	m.mu.Unlock()
}

// EnsureBridge creates the shared bridge carrying the gateway IP, if it
// does not already exist. Idempotent.
func (m *Manager) EnsureBridge() error {
	link, err := netlink.LinkByName(m.BridgeName)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); !ok {
			return fmt.Errorf("network: lookup bridge: %w", err)
		}
		br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: m.BridgeName}}
		if err := netlink.LinkAdd(br); err != nil {
			return fmt.Errorf("network: create bridge: %w", err)
		}
		link, err = netlink.LinkByName(m.BridgeName)
		if err != nil {
			return fmt.Errorf("network: lookup bridge after create: %w", err)
		}
	}

	if err := ensureAddr(link, m.GatewayIP, m.SubnetCIDR); err != nil {
		return err
	}

	return netlink.LinkSetUp(link)
}

// Configure attaches tapName to the bridge, brings it up if requested,
// installs NAT masquerade if outboundInternet, and installs the per-VM
// egress chain. Safe to call twice (idempotent).
func (m *Manager) Configure(guestIP, tapName string, outboundInternet bool, allowIPs []string, up bool) error {
	if err := m.EnsureBridge(); err != nil {
		return err
	}

	if err := m.deleteTapIfExists(tapName); err != nil {
		return err
	}
	if err := m.createTap(tapName, up); err != nil {
		return err
	}

	if outboundInternet {
		if err := m.ensureMasquerade(); err != nil {
			return err
		}
	}

	return m.ensurePerVMChain(guestIP, tapName, outboundInternet, allowIPs)
}

// BringUpTap idempotently brings a tap device up. Used after a snapshot
// restore once the in-guest interface has been re-IP'd over vsock.
func (m *Manager) BringUpTap(tapName string) error {
	link, err := netlink.LinkByName(tapName)
	if err != nil {
		return fmt.Errorf("network: lookup tap %s: %w", tapName, err)
	}
	return netlink.LinkSetUp(link)
}

// Teardown removes the per-VM chain, its jumps, and the tap device.
// Best-effort: collects but does not stop on individual errors.
func (m *Manager) Teardown(guestIP, tapName string) error {
	var errs []string

	chain := chainName(tapName)
	if err := m.deleteChainJumps(guestIP, chain); err != nil {
		errs = append(errs, err.Error())
	}
	if err := m.ipt.ClearChain("filter", chain); err == nil {
		_ = m.ipt.DeleteChain("filter", chain)
	}

	if err := m.deleteTapIfExists(tapName); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("network: teardown errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (m *Manager) createTap(tapName string, up bool) error {
	attrs := netlink.NewLinkAttrs()
	attrs.Name = tapName
	tap := &netlink.Tuntap{LinkAttrs: attrs, Mode: netlink.TUNTAP_MODE_TAP}
	if err := netlink.LinkAdd(tap); err != nil {
		return fmt.Errorf("network: create tap %s: %w", tapName, err)
	}

	br, err := netlink.LinkByName(m.BridgeName)
	if err != nil {
		return fmt.Errorf("network: lookup bridge: %w", err)
	}
	if err := netlink.LinkSetMaster(tap, br); err != nil {
		return fmt.Errorf("network: attach tap %s to bridge: %w", tapName, err)
	}

	if up {
		if err := netlink.LinkSetUp(tap); err != nil {
			return fmt.Errorf("network: set tap %s up: %w", tapName, err)
		}
	}
	return nil
}

func (m *Manager) deleteTapIfExists(tapName string) error {
	link, err := netlink.LinkByName(tapName)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("network: lookup tap %s: %w", tapName, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("network: delete tap %s: %w", tapName, err)
	}
	return nil
}

func (m *Manager) ensureMasquerade() error {
	ok, err := m.ipt.Exists("nat", "POSTROUTING", "-s", m.SubnetCIDR, "!", "-o", m.BridgeName, "-j", "MASQUERADE")
	if err != nil {
		return fmt.Errorf("network: check masquerade rule: %w", err)
	}
	if ok {
		return nil
	}
	if err := m.ipt.Append("nat", "POSTROUTING", "-s", m.SubnetCIDR, "!", "-o", m.BridgeName, "-j", "MASQUERADE"); err != nil {
		return fmt.Errorf("network: add masquerade rule: %w", err)
	}
	return nil
}

// ensurePerVMChain rebuilds the per-tap chain: ESTABLISHED,RELATED accept,
// then (if outboundInternet) one accept per allowIPs entry, then DROP. The
// chain is flushed and rebuilt rather than diffed — see the package doc
// comment for the non-atomicity this implies.
func (m *Manager) ensurePerVMChain(guestIP, tapName string, outboundInternet bool, allowIPs []string) error {
	chain := chainName(tapName)

	exists, err := m.ipt.ChainExists("filter", chain)
	if err != nil {
		return fmt.Errorf("network: check chain %s: %w", chain, err)
	}
	if !exists {
		if err := m.ipt.NewChain("filter", chain); err != nil {
			return fmt.Errorf("network: create chain %s: %w", chain, err)
		}
	} else if err := m.ipt.ClearChain("filter", chain); err != nil {
		return fmt.Errorf("network: flush chain %s: %w", chain, err)
	}

	if err := m.ipt.Append("filter", chain, "-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED", "-j", "ACCEPT"); err != nil {
		return fmt.Errorf("network: append established rule: %w", err)
	}
	if outboundInternet {
		for _, dest := range allowIPs {
			if err := m.ipt.Append("filter", chain, "-d", dest, "-j", "ACCEPT"); err != nil {
				return fmt.Errorf("network: append allow rule for %s: %w", dest, err)
			}
		}
	}
	if err := m.ipt.Append("filter", chain, "-j", "DROP"); err != nil {
		return fmt.Errorf("network: append drop rule: %w", err)
	}

	return m.installChainJumps(guestIP, tapName, chain)
}

func (m *Manager) installChainJumps(guestIP, tapName, chain string) error {
	for _, parent := range []string{"INPUT", "FORWARD"} {
		ok, err := m.ipt.Exists("filter", parent, "-i", m.BridgeName, "-s", guestIP, "-j", chain)
		if err != nil {
			return fmt.Errorf("network: check jump in %s: %w", parent, err)
		}
		if ok {
			continue
		}
		if err := m.ipt.Insert("filter", parent, 1, "-i", m.BridgeName, "-s", guestIP, "-j", chain); err != nil {
			return fmt.Errorf("network: insert jump in %s: %w", parent, err)
		}
	}
	_ = tapName
	return nil
}

func (m *Manager) deleteChainJumps(guestIP, chain string) error {
	var last error
	for _, parent := range []string{"INPUT", "FORWARD"} {
		ok, err := m.ipt.Exists("filter", parent, "-i", m.BridgeName, "-s", guestIP, "-j", chain)
		if err != nil {
			last = err
			continue
		}
		if !ok {
			continue
		}
		if err := m.ipt.Delete("filter", parent, "-i", m.BridgeName, "-s", guestIP, "-j", chain); err != nil {
			last = err
		}
	}
	return last
}

// chainName derives a deterministic <=29-char iptables chain name from a
// tap device name.
func chainName(tapName string) string {
	const prefix = "RDS_"
	const maxLen = 29
	sanitized := strings.ReplaceAll(tapName, "-", "_")
	name := prefix + sanitized
	if len(name) <= maxLen {
		return name
	}
	h := sha1.Sum([]byte(tapName))
	suffix := hex.EncodeToString(h[:])[:8]
	keep := maxLen - len(prefix) - len(suffix) - 1
	if keep < 0 {
		keep = 0
	}
	if keep > len(sanitized) {
		keep = len(sanitized)
	}
	return prefix + sanitized[:keep] + "_" + suffix
}

func ensureAddr(link netlink.Link, gatewayIP, subnetCIDR string) error {
	_, ipNet, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return fmt.Errorf("network: parse subnet: %w", err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return fmt.Errorf("network: list addrs: %w", err)
	}
	want := gatewayIP + "/" + strconv.Itoa(maskBits(ipNet.Mask))
	for _, a := range addrs {
		if a.IPNet.String() == want {
			return nil
		}
	}
	addr, err := netlink.ParseAddr(want)
	if err != nil {
		return fmt.Errorf("network: parse gateway addr: %w", err)
	}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("network: add gateway addr: %w", err)
	}
	return nil
}

func maskBits(mask net.IPMask) int {
	ones, _ := mask.Size()
	return ones
}
