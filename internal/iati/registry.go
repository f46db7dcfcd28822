// Package iati harvests transaction data from the IATI Registry: publisher
// discovery, package search, and activity-XML extraction into staging.
package iati

import (
	"context"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/bstandal/NorConnect/internal/fetcher"
)

// Downloader is the fetch surface the registry client needs.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// RegistryOrg is one publisher from the CKAN organization_list action.
type RegistryOrg struct {
	Name             string `json:"name"`
	PublisherIATIID  string `json:"publisher_iati_id"`
	PublisherCountry string `json:"publisher_country"`
	PackageCount     int    `json:"package_count"`
}

// Resource is one downloadable file attached to a registry package.
type Resource struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Format string `json:"format"`
	URL    string `json:"url"`
}

// Package is one CKAN dataset.
type Package struct {
	Name            string     `json:"name"`
	Title           string     `json:"title"`
	PublisherIATIID string     `json:"publisher_iati_id"`
	Resources       []Resource `json:"resources"`
}

// PackageEntry pairs a package with the registry query that found it.
type PackageEntry struct {
	Query   string
	Package Package
}

// ResourceMeta carries registry provenance for one XML resource.
type ResourceMeta struct {
	RegistryQuery   string
	PackageName     string
	PackageTitle    string
	PackageURL      string
	PublisherIATIID string
	ResourceURL     string
}

type organizationListResponse struct {
	Success bool          `json:"success"`
	Result  []RegistryOrg `json:"result"`
}

type packageSearchResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Count   int       `json:"count"`
		Results []Package `json:"results"`
	} `json:"result"`
}

// RegistryClient talks to the IATI Registry CKAN API.
type RegistryClient struct {
	dl          Downloader
	baseURL     string
	datasetBase string
	rowsPerPage int
}

// NewRegistryClient builds a client. rowsPerPage falls back to 100.
func NewRegistryClient(dl Downloader, baseURL, datasetBase string, rowsPerPage int) *RegistryClient {
	if rowsPerPage <= 0 {
		rowsPerPage = 100
	}
	return &RegistryClient{
		dl:          dl,
		baseURL:     strings.TrimRight(baseURL, "/"),
		datasetBase: strings.TrimRight(datasetBase, "/"),
		rowsPerPage: rowsPerPage,
	}
}

func getJSON[T any](ctx context.Context, c *RegistryClient, action string, params url.Values) (*T, error) {
	u := c.baseURL + "/" + action
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	body, err := c.dl.Download(ctx, u)
	if err != nil {
		return nil, eris.Wrapf(err, "iati: registry %s", action)
	}
	defer body.Close() //nolint:errcheck

	payload, err := fetcher.DecodeJSONObject[T](body)
	if err != nil {
		return nil, eris.Wrapf(err, "iati: decode %s response", action)
	}
	return payload, nil
}

// DiscoverNorwegianPublishers lists publishers registered with
// publisher_country NO that actually have packages, sorted by IATI id.
func (c *RegistryClient) DiscoverNorwegianPublishers(ctx context.Context) ([]string, error) {
	params := url.Values{"all_fields": {"true"}}
	payload, err := getJSON[organizationListResponse](ctx, c, "organization_list", params)
	if err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, eris.New("iati: organization_list request not successful")
	}

	seen := make(map[string]struct{})
	for _, org := range payload.Result {
		id := strings.TrimSpace(org.PublisherIATIID)
		if strings.ToUpper(org.PublisherCountry) != "NO" || org.PackageCount <= 0 || id == "" {
			continue
		}
		seen[id] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// PagedPackageSearch pages through package_search for one filter query.
func (c *RegistryClient) PagedPackageSearch(ctx context.Context, fq string) ([]Package, error) {
	var packages []Package
	start := 0

	for {
		params := url.Values{
			"fq":    {fq},
			"rows":  {strconv.Itoa(c.rowsPerPage)},
			"start": {strconv.Itoa(start)},
		}
		payload, err := getJSON[packageSearchResponse](ctx, c, "package_search", params)
		if err != nil {
			return nil, err
		}
		if !payload.Success {
			return nil, eris.Errorf("iati: package_search %q not successful", fq)
		}
		if len(payload.Result.Results) == 0 {
			break
		}

		packages = append(packages, payload.Result.Results...)
		start += len(payload.Result.Results)
		if start >= payload.Result.Count {
			break
		}
	}

	return packages, nil
}

// CollectPackages gathers packages for every publisher id and organization
// slug, deduplicated by package name (later filters win).
func (c *RegistryClient) CollectPackages(ctx context.Context, publisherIDs, organizationSlugs []string) (map[string]PackageEntry, error) {
	byName := make(map[string]PackageEntry)

	queries := make([]string, 0, len(publisherIDs)+len(organizationSlugs))
	for _, id := range publisherIDs {
		queries = append(queries, "publisher_iati_id:"+id)
	}
	for _, slug := range organizationSlugs {
		queries = append(queries, "organization:"+slug)
	}

	for _, fq := range queries {
		packages, err := c.PagedPackageSearch(ctx, fq)
		if err != nil {
			return nil, err
		}
		for _, pkg := range packages {
			name := strings.TrimSpace(pkg.Name)
			if name == "" {
				continue
			}
			byName[name] = PackageEntry{Query: fq, Package: pkg}
		}
	}

	return byName, nil
}

// IsXMLResource reports whether a registry resource looks like an IATI XML
// file by format, URL, or name.
func IsXMLResource(r Resource) bool {
	return strings.Contains(strings.ToLower(r.Format), "xml") ||
		strings.HasSuffix(strings.ToLower(r.URL), ".xml") ||
		strings.HasSuffix(strings.ToLower(r.Name), ".xml")
}

// XMLResources flattens package entries into XML resource metadata, honoring
// optional package and resource caps (zero means unlimited). Entries are
// visited in stable package-name order.
func (c *RegistryClient) XMLResources(entries map[string]PackageEntry, maxPackages, maxResources int) []ResourceMeta {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var resources []ResourceMeta
	for i, name := range names {
		if maxPackages > 0 && i >= maxPackages {
			break
		}
		entry := entries[name]
		pkg := entry.Package

		for _, res := range pkg.Resources {
			if maxResources > 0 && len(resources) >= maxResources {
				return resources
			}
			if !IsXMLResource(res) || strings.TrimSpace(res.URL) == "" {
				continue
			}
			resources = append(resources, ResourceMeta{
				RegistryQuery:   entry.Query,
				PackageName:     pkg.Name,
				PackageTitle:    strings.TrimSpace(pkg.Title),
				PackageURL:      c.datasetBase + "/" + pkg.Name,
				PublisherIATIID: strings.TrimSpace(pkg.PublisherIATIID),
				ResourceURL:     strings.TrimSpace(res.URL),
			})
		}
	}

	return resources
}
