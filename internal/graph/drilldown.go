package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-set/v2"

	"github.com/bstandal/NorConnect/internal/curated"
	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
)

// DrilldownInput is the dataset snapshot the drilldown merges with curated
// profiles.
type DrilldownInput struct {
	Persons  []model.Person
	RoleRows []model.RoleRow
	LinkRows []model.PersonLinkRow
}

// ScopePerson names one profile in the drilldown scope.
type ScopePerson struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

// NetworkScope describes which profiles the drilldown covers.
type NetworkScope struct {
	Group  string        `json:"group,omitempty"`
	People []ScopePerson `json:"people"`
}

// DrilldownBinding is one person-institution tie in the side panel,
// dataset-derived or curated.
type DrilldownBinding struct {
	ID                string            `json:"id"`
	PersonKey         string            `json:"person_key"`
	PersonName        string            `json:"person_name"`
	InstitutionNodeID string            `json:"institution_node_id"`
	InstitutionName   string            `json:"institution_name"`
	RoleTitle         string            `json:"role_title"`
	RelationType      string            `json:"relation_type"`
	StartYear         *int              `json:"start_year,omitempty"`
	EndYear           *int              `json:"end_year,omitempty"`
	SourceKind        string            `json:"source_kind"`
	OutsideDataset    bool              `json:"outside_dataset"`
	Notes             *string           `json:"notes,omitempty"`
	Sources           []model.SourceRef `json:"sources,omitempty"`
}

// Drilldown is the person-drilldown payload: the focus person's network
// merged from dataset rows and curated profiles.
type Drilldown struct {
	Person            ScopePerson        `json:"person"`
	NetworkScope      NetworkScope       `json:"network_scope"`
	AvailableProfiles []ScopePerson      `json:"available_profiles"`
	Nodes             []Node             `json:"nodes"`
	Edges             []Edge             `json:"edges"`
	Bindings          []DrilldownBinding `json:"bindings"`
	Stats             Stats              `json:"stats"`
}

// bindingSignature identifies a real-world person-institution fact.
// Dataset edges register theirs first; a curated binding with the same
// signature is dropped as already captured.
type bindingSignature struct {
	personKey      string
	institutionKey string
	roleTitle      string
	startYear      int
	endYear        int
}

func newBindingSignature(personKey, institutionName, roleTitle string, startYear, endYear *int) bindingSignature {
	sig := bindingSignature{
		personKey:      personKey,
		institutionKey: resolve.ExternalRecipientKey(institutionName),
		roleTitle:      strings.ToLower(strings.TrimSpace(roleTitle)),
		startYear:      -1,
		endYear:        -1,
	}
	if startYear != nil {
		sig.startYear = *startYear
	}
	if endYear != nil {
		sig.endYear = *endYear
	}
	return sig
}

// linkSignature dedupes person links across dataset and curated rows.
type linkSignature struct {
	keyA, keyB   string
	relationType string
	startYear    int
	endYear      int
}

func newLinkSignature(keyA, keyB, relationType string, startYear, endYear *int) linkSignature {
	if keyB < keyA {
		keyA, keyB = keyB, keyA
	}
	sig := linkSignature{keyA: keyA, keyB: keyB, relationType: relationType, startYear: -1, endYear: -1}
	if startYear != nil {
		sig.startYear = *startYear
	}
	if endYear != nil {
		sig.endYear = *endYear
	}
	return sig
}

func curatedSources(refs []curated.SourceRef) []model.SourceRef {
	if len(refs) == 0 {
		return nil
	}
	out := make([]model.SourceRef, 0, len(refs))
	for _, ref := range refs {
		src := model.SourceRef{URL: ref.URL}
		if ref.SourceName != "" {
			name := ref.SourceName
			src.SourceName = &name
		}
		out = append(out, src)
	}
	return out
}

type drilldownBuilder struct {
	set     *curated.Set
	filters Filters

	nodes         *nodeSet
	edges         []Edge
	bindings      []DrilldownBinding
	personNodeIDs map[string]string
	personNames   map[string]string
	personDBIDs   map[string]int64
	personToOrgs  map[string]*set.Set[string]

	orgNodeByKey   map[string]string
	orgNodeNames   map[string]string
	orgNodeOutside map[string]bool

	datasetBindings map[bindingSignature]bool
	seenLinks       map[linkSignature]bool
}

// BuildDrilldown assembles the focus person's network: dataset role edges
// first, curated bindings deduped against them, person links merged from
// both sides, and derived shared-institution edges across the scope.
func BuildDrilldown(profiles *curated.Set, personKey string, in DrilldownInput, f Filters) *Drilldown {
	selectedKey, selectedProfile, ok := profiles.Find(personKey)
	if !ok {
		selectedKey, selectedProfile = profiles.Default()
	}

	profileKeys := []string{selectedKey}
	if selectedProfile.Group != "" {
		for _, key := range profiles.Groups[selectedProfile.Group] {
			if _, ok := profiles.Profiles[key]; ok && key != selectedKey {
				profileKeys = append(profileKeys, key)
			}
		}
	}

	b := &drilldownBuilder{
		set:             profiles,
		filters:         f,
		nodes:           newNodeSet(),
		personNodeIDs:   make(map[string]string),
		personNames:     make(map[string]string),
		personDBIDs:     make(map[string]int64),
		personToOrgs:    make(map[string]*set.Set[string]),
		orgNodeByKey:    make(map[string]string),
		orgNodeNames:    make(map[string]string),
		orgNodeOutside:  make(map[string]bool),
		datasetBindings: make(map[bindingSignature]bool),
		seenLinks:       make(map[linkSignature]bool),
	}

	profileRoles := b.matchProfiles(profileKeys, in)

	for _, key := range profileKeys {
		b.addPersonNode(key, key == selectedKey, profileRoles[key])
	}
	for _, key := range profileKeys {
		b.addDatasetRoles(key, profileRoles[key])
	}
	for _, key := range profileKeys {
		b.addCuratedBindings(key)
	}
	b.addDatasetLinks(in.LinkRows)
	for _, key := range profileKeys {
		b.addCuratedLinks(key)
	}
	b.addSharedInstitutions(profileKeys)

	keep := make(map[string]bool, len(b.personNodeIDs))
	for _, id := range b.personNodeIDs {
		keep[id] = true
	}
	filteredNodes := b.nodes.connected(b.edges, keep)

	b.sortBindings(selectedKey)

	connected := make(map[string]bool, len(filteredNodes))
	for _, n := range filteredNodes {
		connected[n.ID] = true
	}
	outsideCount := 0
	for id, outside := range b.orgNodeOutside {
		if outside && connected[id] {
			outsideCount++
		}
	}

	datasetEdges, curatedEdges, sharedEdges := 0, 0, 0
	for _, e := range b.edges {
		switch {
		case e.Type == "shared_institution":
			sharedEdges++
		case e.SourceKind == "dataset":
			datasetEdges++
		case e.SourceKind == "curated":
			curatedEdges++
		}
	}

	scope := NetworkScope{Group: selectedProfile.Group}
	for _, key := range profileKeys {
		scope.People = append(scope.People, ScopePerson{Key: key, DisplayName: b.personNames[key]})
	}

	available := make([]ScopePerson, 0, len(profiles.Profiles))
	for _, key := range profiles.Keys() {
		available = append(available, ScopePerson{Key: key, DisplayName: profiles.Profiles[key].DisplayName})
	}
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].DisplayName < available[j].DisplayName
	})

	return &Drilldown{
		Person:            ScopePerson{Key: selectedKey, DisplayName: b.personNames[selectedKey]},
		NetworkScope:      scope,
		AvailableProfiles: available,
		Nodes:             filteredNodes,
		Edges:             b.edges,
		Bindings:          b.bindings,
		Stats: Stats{
			"nodes":                        len(filteredNodes),
			"edges":                        len(b.edges),
			"people":                       len(b.personNodeIDs),
			"dataset_edges":                datasetEdges,
			"curated_edges":                curatedEdges,
			"shared_edges":                 sharedEdges,
			"outside_dataset_institutions": outsideCount,
		},
	}
}

// matchProfiles pairs each profile with its canonical person (by
// normalized display name or alias) and collects that person's filtered
// role rows.
func (b *drilldownBuilder) matchProfiles(profileKeys []string, in DrilldownInput) map[string][]model.RoleRow {
	personsByName := make(map[string]model.Person, len(in.Persons))
	for _, p := range in.Persons {
		personsByName[p.NormalizedName] = p
	}
	rolesByPerson := make(map[int64][]model.RoleRow)
	for _, row := range in.RoleRows {
		rolesByPerson[row.PersonID] = append(rolesByPerson[row.PersonID], row)
	}

	out := make(map[string][]model.RoleRow, len(profileKeys))
	for _, key := range profileKeys {
		profile := b.set.Profiles[key]
		names := append([]string{profile.DisplayName}, profile.Aliases...)
		for _, name := range names {
			p, ok := personsByName[resolve.NormalizeName(name)]
			if !ok {
				continue
			}
			b.personDBIDs[key] = p.ID
			out[key] = FilterRoles(rolesByPerson[p.ID], b.filters)
			break
		}
	}
	return out
}

func (b *drilldownBuilder) addPersonNode(key string, focus bool, rows []model.RoleRow) {
	profile := b.set.Profiles[key]
	name := profile.DisplayName
	nodeID := "profile-person:" + key
	if dbID, ok := b.personDBIDs[key]; ok {
		nodeID = fmt.Sprintf("person:%d", dbID)
		if len(rows) > 0 {
			name = rows[0].PersonName
		}
	}

	nodeType, subtitle := "person_peer", "I nøkkelnettverket"
	if focus {
		nodeType, subtitle = "person_focus", "Fokusperson"
	}
	b.nodes.add(nodeID, name, nodeType, &subtitle)
	b.personNodeIDs[key] = nodeID
	b.personNames[key] = name
	b.personToOrgs[key] = set.New[string](4)
}

func (b *drilldownBuilder) addDatasetRoles(key string, rows []model.RoleRow) {
	personNodeID := b.personNodeIDs[key]
	personName := b.personNames[key]
	subtitle := "Fra datagrunnlag"

	for _, row := range rows {
		orgNodeID := fmt.Sprintf("org:%d", row.OrganizationID)
		orgKey := resolve.ExternalRecipientKey(row.OrganizationName)
		b.nodes.add(orgNodeID, row.OrganizationName, "organization", &subtitle)
		b.orgNodeByKey[orgKey] = orgNodeID
		b.orgNodeNames[orgNodeID] = row.OrganizationName
		b.orgNodeOutside[orgNodeID] = false

		startYear, endYear, anchor := roleWindow(row)
		roleTitle := row.RoleTitle
		if roleTitle == "" {
			roleTitle = "Rolle"
		}
		edgeID := fmt.Sprintf("person-role:%s:%d", key, row.RoleEventID)

		b.edges = append(b.edges, Edge{
			ID:         edgeID,
			From:       personNodeID,
			To:         orgNodeID,
			Type:       "person_role",
			SourceKind: "dataset",
			Label:      ShortLabel(roleTitle, 32),
			Title:      roleTitle,
			Year:       anchor,
			Metadata: map[string]any{
				"person_name": personName,
				"role_title":  roleTitle,
				"start_year":  startYear,
				"end_year":    endYear,
			},
			Sources: row.Sources,
		})
		b.bindings = append(b.bindings, DrilldownBinding{
			ID:                edgeID,
			PersonKey:         key,
			PersonName:        personName,
			InstitutionNodeID: orgNodeID,
			InstitutionName:   row.OrganizationName,
			RoleTitle:         roleTitle,
			RelationType:      "role_event",
			StartYear:         startYear,
			EndYear:           endYear,
			SourceKind:        "dataset",
			Notes:             row.SourceQuote,
			Sources:           row.Sources,
		})
		b.personToOrgs[key].Insert(orgNodeID)
		b.datasetBindings[newBindingSignature(key, row.OrganizationName, roleTitle, startYear, endYear)] = true
	}
}

func (b *drilldownBuilder) addCuratedBindings(key string) {
	profile := b.set.Profiles[key]
	personNodeID := b.personNodeIDs[key]
	personName := b.personNames[key]

	for idx, item := range profile.Bindings {
		if !b.filters.inWindow(nil, item.StartYear, item.EndYear) {
			continue
		}
		if !b.filters.matches(personName, item.InstitutionName, item.RoleTitle, item.RelationType, item.Notes) {
			continue
		}

		institutionName := item.InstitutionName
		if institutionName == "" {
			institutionName = "Ukjent institusjon"
		}
		institutionKey := resolve.ExternalRecipientKey(institutionName)
		outside := item.Outside()

		institutionNodeID, known := b.orgNodeByKey[institutionKey]
		if !known {
			if outside {
				institutionNodeID = "external-institution:" + institutionKey
				subtitle := "Utenfor datagrunnlag"
				b.nodes.add(institutionNodeID, institutionName, "external_institution", &subtitle)
			} else {
				institutionNodeID = "curated-organization:" + institutionKey
				subtitle := "Kuratert binding"
				b.nodes.add(institutionNodeID, institutionName, "organization", &subtitle)
			}
			b.orgNodeByKey[institutionKey] = institutionNodeID
		}
		b.orgNodeNames[institutionNodeID] = institutionName
		existing, seen := b.orgNodeOutside[institutionNodeID]
		b.orgNodeOutside[institutionNodeID] = (!seen || existing) && outside

		roleTitle := item.RoleTitle
		if roleTitle == "" {
			roleTitle = "Binding"
		}
		if b.datasetBindings[newBindingSignature(key, institutionName, roleTitle, item.StartYear, item.EndYear)] {
			continue
		}

		edgeID := fmt.Sprintf("curated-binding:%s:%s:%d", key, institutionKey, idx)
		sources := curatedSources(item.Sources)
		var notes *string
		if item.Notes != "" {
			n := item.Notes
			notes = &n
		}

		b.edges = append(b.edges, Edge{
			ID:             edgeID,
			From:           personNodeID,
			To:             institutionNodeID,
			Type:           "curated_binding",
			SourceKind:     "curated",
			OutsideDataset: outside,
			Label:          ShortLabel(roleTitle, 32),
			Title:          roleTitle,
			Year:           item.StartYear,
			Metadata: map[string]any{
				"person_name":      personName,
				"role_title":       roleTitle,
				"relation_type":    item.RelationType,
				"institution_type": item.InstitutionType,
				"start_year":       item.StartYear,
				"end_year":         item.EndYear,
				"notes":            item.Notes,
			},
			Sources: sources,
		})
		b.bindings = append(b.bindings, DrilldownBinding{
			ID:                edgeID,
			PersonKey:         key,
			PersonName:        personName,
			InstitutionNodeID: institutionNodeID,
			InstitutionName:   institutionName,
			RoleTitle:         roleTitle,
			RelationType:      item.RelationType,
			StartYear:         item.StartYear,
			EndYear:           item.EndYear,
			SourceKind:        "curated",
			OutsideDataset:    outside,
			Notes:             notes,
			Sources:           sources,
		})
		b.personToOrgs[key].Insert(institutionNodeID)
	}
}

// addDatasetLinks merges canonical person links between in-scope persons.
// Dataset rows register their signatures before curated links run.
func (b *drilldownBuilder) addDatasetLinks(rows []model.PersonLinkRow) {
	keyByDBID := make(map[int64]string, len(b.personDBIDs))
	for key, id := range b.personDBIDs {
		keyByDBID[id] = key
	}

	for _, row := range rows {
		keyA, okA := keyByDBID[row.PersonAID]
		keyB, okB := keyByDBID[row.PersonBID]
		if !okA || !okB {
			continue
		}
		if !b.filters.inWindow(nil, row.StartYear, row.EndYear) {
			continue
		}
		label := deref(row.Description)
		if label == "" {
			label = row.RelationType
		}
		if !b.filters.matches(b.personNames[keyA], b.personNames[keyB], row.RelationType, label) {
			continue
		}

		sig := newLinkSignature(keyA, keyB, row.RelationType, row.StartYear, row.EndYear)
		if b.seenLinks[sig] {
			continue
		}
		b.seenLinks[sig] = true

		b.edges = append(b.edges, Edge{
			ID:         fmt.Sprintf("person-link-db:%d", row.LinkID),
			From:       b.personNodeIDs[sig.keyA],
			To:         b.personNodeIDs[sig.keyB],
			Type:       "person_link",
			SourceKind: "dataset",
			Label:      ShortLabel(label, DefaultLabelLimit),
			Title:      label,
			Year:       row.StartYear,
			Metadata: map[string]any{
				"relation_type": row.RelationType,
				"start_year":    row.StartYear,
				"end_year":      row.EndYear,
				"confidence":    row.Confidence,
			},
			Sources: row.Sources,
		})
	}
}

func (b *drilldownBuilder) addCuratedLinks(key string) {
	profile := b.set.Profiles[key]
	for _, link := range profile.Links {
		targetKey, _, ok := b.set.Find(link.TargetKey)
		if !ok {
			continue
		}
		if _, inScope := b.personNodeIDs[targetKey]; !inScope {
			continue
		}
		if !b.filters.inWindow(nil, link.StartYear, link.EndYear) {
			continue
		}

		relationType := link.RelationType
		if relationType == "" {
			relationType = "person_link"
		}
		label := link.Label
		if label == "" {
			label = relationType
		}
		if !b.filters.matches(b.personNames[key], b.personNames[targetKey], relationType, label) {
			continue
		}

		sig := newLinkSignature(key, targetKey, relationType, link.StartYear, link.EndYear)
		if b.seenLinks[sig] {
			continue
		}
		b.seenLinks[sig] = true

		b.edges = append(b.edges, Edge{
			ID:         fmt.Sprintf("person-link:%s:%s:%s", sig.keyA, sig.keyB, resolve.SlugKey(relationType)),
			From:       b.personNodeIDs[sig.keyA],
			To:         b.personNodeIDs[sig.keyB],
			Type:       "person_link",
			SourceKind: "curated",
			Label:      ShortLabel(label, DefaultLabelLimit),
			Title:      label,
			Year:       link.StartYear,
			Metadata: map[string]any{
				"relation_type": relationType,
				"start_year":    link.StartYear,
				"end_year":      link.EndYear,
			},
			Sources: curatedSources(link.Sources),
		})
	}
}

func (b *drilldownBuilder) addSharedInstitutions(profileKeys []string) {
	sorted := append([]string(nil), profileKeys...)
	sort.Strings(sorted)

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			k1, k2 := sorted[i], sorted[j]
			shared := b.personToOrgs[k1].Intersect(b.personToOrgs[k2]).Slice()
			if len(shared) == 0 {
				continue
			}
			sort.Strings(shared)

			names := make([]string, 0, len(shared))
			for _, nodeID := range shared {
				name := b.orgNodeNames[nodeID]
				if name == "" {
					name = nodeID
				}
				names = append(names, name)
			}
			texts := append([]string{b.personNames[k1], b.personNames[k2]}, names...)
			if !b.filters.matches(texts...) {
				continue
			}

			b.edges = append(b.edges, Edge{
				ID:         fmt.Sprintf("shared-org:%s:%s", k1, k2),
				From:       b.personNodeIDs[k1],
				To:         b.personNodeIDs[k2],
				Type:       "shared_institution",
				SourceKind: "derived",
				Label:      fmt.Sprintf("%d", len(shared)),
				Title:      "Delte institusjoner",
				Metadata: map[string]any{
					"shared_count":        len(shared),
					"shared_institutions": strings.Join(names, ", "),
				},
			})
		}
	}
}

// sortBindings orders the side panel: the focus person first, then newest
// start years, then names.
func (b *drilldownBuilder) sortBindings(selectedKey string) {
	sort.SliceStable(b.bindings, func(i, j int) bool {
		a, c := b.bindings[i], b.bindings[j]
		if (a.PersonKey == selectedKey) != (c.PersonKey == selectedKey) {
			return a.PersonKey == selectedKey
		}
		if (a.StartYear == nil) != (c.StartYear == nil) {
			return a.StartYear != nil
		}
		if a.StartYear != nil && c.StartYear != nil && *a.StartYear != *c.StartYear {
			return *a.StartYear > *c.StartYear
		}
		if a.PersonName != c.PersonName {
			return a.PersonName < c.PersonName
		}
		return a.InstitutionName < c.InstitutionName
	})
}
