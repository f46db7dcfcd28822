package graph

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/hashicorp/go-set/v2"

	"github.com/bstandal/NorConnect/internal/model"
)

// coboardSampleCap bounds the person-name samples carried per org pair.
const coboardSampleCap = 8

type orgPair struct {
	a, b int64
}

type pairMeta struct {
	count   int
	samples []string
}

// BuildCoboard derives the organization co-occurrence graph: an edge
// between two organizations for every person holding roles at both, with
// the shared-person count and a capped name sample. Pairs enumerate in
// sorted order so each unordered pair appears once.
func BuildCoboard(roleRows []model.RoleRow, f Filters) *Network {
	roleRows = FilterRoles(roleRows, f)

	type personBucket struct {
		name string
		orgs *set.Set[int64]
	}
	persons := make(map[int64]*personBucket)
	var personOrder []int64
	orgNames := make(map[int64]string)

	for _, row := range roleRows {
		b, ok := persons[row.PersonID]
		if !ok {
			b = &personBucket{name: row.PersonName, orgs: set.New[int64](4)}
			persons[row.PersonID] = b
			personOrder = append(personOrder, row.PersonID)
		}
		b.orgs.Insert(row.OrganizationID)
		orgNames[row.OrganizationID] = row.OrganizationName
	}

	pairs := make(map[orgPair]*pairMeta)
	orgDegree := make(map[int64]int)

	for _, personID := range personOrder {
		b := persons[personID]
		orgs := b.orgs.Slice()
		sort.Slice(orgs, func(i, j int) bool { return orgs[i] < orgs[j] })

		for i := 0; i < len(orgs); i++ {
			for j := i + 1; j < len(orgs); j++ {
				key := orgPair{a: orgs[i], b: orgs[j]}
				meta, ok := pairs[key]
				if !ok {
					meta = &pairMeta{}
					pairs[key] = meta
				}
				meta.count++
				if len(meta.samples) < coboardSampleCap {
					meta.samples = append(meta.samples, b.name)
				}
				orgDegree[orgs[i]]++
				orgDegree[orgs[j]]++
			}
		}
	}

	orgIDs := make([]int64, 0, len(orgNames))
	for id := range orgNames {
		if orgDegree[id] > 0 {
			orgIDs = append(orgIDs, id)
		}
	}
	sort.Slice(orgIDs, func(i, j int) bool { return orgIDs[i] < orgIDs[j] })

	nodes := make([]Node, 0, len(orgIDs))
	for _, id := range orgIDs {
		nodes = append(nodes, Node{
			ID:     fmt.Sprintf("org:%d", id),
			Label:  orgNames[id],
			Type:   "organization",
			Degree: orgDegree[id],
		})
	}

	edges := make([]Edge, 0, len(pairs))
	maxShared := 0
	for pair, meta := range pairs {
		names := set.From(meta.samples).Slice()
		sort.Strings(names)
		edges = append(edges, Edge{
			ID:         fmt.Sprintf("coboard:%d:%d", pair.a, pair.b),
			From:       fmt.Sprintf("org:%d", pair.a),
			To:         fmt.Sprintf("org:%d", pair.b),
			Type:       "coboard",
			SourceKind: "derived",
			Label:      strconv.Itoa(meta.count),
			Title:      "Delte styreverv",
			Metadata: map[string]any{
				"shared_count": meta.count,
				"person_names": names,
			},
		})
		if meta.count > maxShared {
			maxShared = meta.count
		}
	}
	sort.SliceStable(edges, func(i, j int) bool {
		ci := edges[i].Metadata["shared_count"].(int)
		cj := edges[j].Metadata["shared_count"].(int)
		if ci != cj {
			return ci > cj
		}
		return edges[i].ID < edges[j].ID
	})

	return &Network{
		Nodes: nodes,
		Edges: edges,
		Stats: Stats{
			"nodes":      len(nodes),
			"edges":      len(edges),
			"max_shared": maxShared,
		},
	}
}
