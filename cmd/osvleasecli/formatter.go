package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/veesix-networks/osvlease/pkg/leaseapi"
)

type OutputFormat string

const (
	FormatCLI  OutputFormat = "cli"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatCLI, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatCLI, nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

func formatStatuses(list []leaseapi.InterfaceStatus, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(list)
	case FormatYAML:
		return formatYAML(list)
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INTERFACE\tVERSION\tSTATE\tADDRESS\tGATEWAY\tLEASE")
	for _, s := range list {
		addr, gw, dur := "-", "-", "-"
		if r := s.Result; r != nil {
			if !r.Address.IsZero() {
				addr = r.Address.String()
			}
			if !r.Gateway.IsZero() {
				gw = r.Gateway.String()
			}
			dur = leaseDuration(r.LeaseDuration)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.Interface, s.Version, s.State, addr, gw, dur)
	}
	w.Flush()
	return buf.String(), nil
}

func formatStatus(s leaseapi.InterfaceStatus, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(s)
	case FormatYAML:
		return formatYAML(s)
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Interface:\t%s\n", s.Interface)
	fmt.Fprintf(w, "IP version:\t%s\n", s.Version)
	fmt.Fprintf(w, "State:\t%s\n", s.State)
	fmt.Fprintf(w, "Pre-lease notification:\t%t\n", s.PreLeaseNotification)

	if r := s.Result; r != nil {
		fmt.Fprintf(w, "Address:\t%s\n", r.Address)
		if !r.Gateway.IsZero() {
			fmt.Fprintf(w, "Gateway:\t%s\n", r.Gateway)
		}
		if !r.ServerAddress.IsZero() {
			fmt.Fprintf(w, "Server:\t%s\n", r.ServerAddress)
		}
		if len(r.DNSServers) > 0 {
			dns := make([]string, len(r.DNSServers))
			for i, ip := range r.DNSServers {
				dns[i] = ip.String()
			}
			fmt.Fprintf(w, "DNS servers:\t%s\n", strings.Join(dns, ", "))
		}
		if len(r.Domains) > 0 {
			fmt.Fprintf(w, "Domains:\t%s\n", strings.Join(r.Domains, " "))
		}
		if r.MTU > 0 {
			fmt.Fprintf(w, "MTU:\t%d\n", r.MTU)
		}
		fmt.Fprintf(w, "Lease:\t%s\n", leaseDuration(r.LeaseDuration))
	}
	w.Flush()
	return buf.String(), nil
}

func leaseDuration(seconds int64) string {
	if seconds < 0 {
		return "infinite"
	}
	return fmt.Sprintf("%ds", seconds)
}

func formatJSON(data any) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatYAML goes through JSON so the field names match the json tags.
func formatYAML(data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
