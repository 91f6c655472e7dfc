package netscan

import (
	"errors"
	"strings"

	nmap "github.com/Ullaakut/nmap/v3"
)

// Report is the port_scan result.
type Report struct {
	Status   string   `json:"status"`
	Target   string   `json:"target"`
	Hosts    []Host   `json:"hosts"`
	Warnings []string `json:"warnings,omitempty"`
}

// Host is one scanned host that was up.
type Host struct {
	Address   string   `json:"address"`
	MAC       string   `json:"mac,omitempty"`
	Vendor    string   `json:"vendor,omitempty"`
	Hostnames []string `json:"hostnames,omitempty"`
	OpenPorts []int    `json:"open_ports"`
	Ports     []Port   `json:"ports"`
}

// Port is the state of one scanned port.
type Port struct {
	Port     uint16 `json:"port"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
	Service  string `json:"service,omitempty"`
	Banner   string `json:"banner,omitempty"`
}

func convert(target string, run *nmap.Run) (*Report, error) {
	if run == nil {
		return nil, errors.New("nil scan result")
	}
	report := &Report{Status: "success", Target: target, Hosts: []Host{}}
	for _, h := range run.Hosts {
		if len(h.Addresses) == 0 || h.Status.State != "up" {
			continue
		}

		host := Host{OpenPorts: []int{}, Ports: []Port{}}
		for _, addr := range h.Addresses {
			switch addr.AddrType {
			case "mac":
				host.MAC = strings.ToUpper(addr.Addr)
				host.Vendor = addr.Vendor
			case "ipv4":
				if host.Address == "" {
					host.Address = addr.Addr
				}
			}
		}
		if host.Address == "" {
			host.Address = h.Addresses[0].Addr
		}
		for _, name := range h.Hostnames {
			host.Hostnames = append(host.Hostnames, name.Name)
		}

		for _, p := range h.Ports {
			port := Port{
				Port:     p.ID,
				Protocol: p.Protocol,
				State:    p.State.State,
				Service:  p.Service.Name,
				Banner:   strings.TrimSpace(p.Service.Product + " " + p.Service.Version),
			}
			host.Ports = append(host.Ports, port)
			if port.State == "open" {
				host.OpenPorts = append(host.OpenPorts, int(p.ID))
			}
		}
		report.Hosts = append(report.Hosts, host)
	}
	return report, nil
}
