package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bstandal/NorConnect/internal/curated"
	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
)

func drilldownProfiles() *curated.Set {
	return &curated.Set{
		DefaultKey: "anna-aas",
		Groups: map[string][]string{
			"g1": {"anna-aas", "bernt-berg"},
		},
		Profiles: map[string]curated.Profile{
			"anna-aas": {
				DisplayName: "Anna Aas",
				Group:       "g1",
				Bindings: []curated.Binding{
					{
						// Same fact as role event 100: dropped by signature.
						InstitutionName: "Stiftelsen Nordlys",
						RoleTitle:       "Styreleder",
						StartYear:       intP(2010),
						EndYear:         intP(2015),
					},
					{
						InstitutionName: "Utenlandsk Institutt",
						InstitutionType: "research",
						RoleTitle:       "Rådgiver",
						RelationType:    "advisory",
						StartYear:       intP(2018),
						Notes:           "Kuratert fra årsmeldingen.",
						Sources: []curated.SourceRef{{
							SourceName: "institutt.example",
							URL:        "https://institutt.example/om",
						}},
					},
				},
				Links: []curated.Link{{
					// Same pair and relation as DB link 7: deduped.
					TargetKey:    "bernt-berg",
					RelationType: "family",
					Label:        "Søsken",
				}},
			},
			"bernt-berg": {DisplayName: "Bernt Berg", Group: "g1"},
			"cecilie-dahl": {
				DisplayName: "Cecilie Dahl",
				Bindings: []curated.Binding{{
					InstitutionName: "Tenketanken Sør",
					RoleTitle:       "Fellow",
					StartYear:       intP(2021),
				}},
			},
		},
	}
}

func drilldownInput() DrilldownInput {
	start2010 := time.Date(2010, time.March, 1, 0, 0, 0, 0, time.UTC)
	end2015 := time.Date(2015, time.June, 30, 0, 0, 0, 0, time.UTC)
	start2012 := time.Date(2012, time.January, 15, 0, 0, 0, 0, time.UTC)

	return DrilldownInput{
		Persons: []model.Person{
			{ID: 1, FullName: "Anna Aas", NormalizedName: resolve.NormalizeName("Anna Aas")},
			{ID: 2, FullName: "Bernt Berg", NormalizedName: resolve.NormalizeName("Bernt Berg")},
		},
		RoleRows: []model.RoleRow{
			{
				RoleEventID: 100, PersonID: 1, PersonName: "Anna Aas",
				OrganizationID: 50, OrganizationName: "Stiftelsen Nordlys",
				RoleTitle: "Styreleder", StartOn: &start2010, EndOn: &end2015,
				Sources: []model.SourceRef{{URL: "https://nordlys.example/styret"}},
			},
			{
				RoleEventID: 101, PersonID: 2, PersonName: "Bernt Berg",
				OrganizationID: 50, OrganizationName: "Stiftelsen Nordlys",
				RoleTitle: "Styremedlem", StartOn: &start2012,
			},
		},
		LinkRows: []model.PersonLinkRow{{
			LinkID: 7, PersonAID: 1, PersonAName: "Anna Aas",
			PersonBID: 2, PersonBName: "Bernt Berg",
			RelationType: "family", Description: strP("Søsken"), Confidence: 0.8,
		}},
	}
}

func TestBuildDrilldown_MergesDatasetAndCurated(t *testing.T) {
	d := BuildDrilldown(drilldownProfiles(), "anna-aas", drilldownInput(), Filters{})

	assert.Equal(t, "anna-aas", d.Person.Key)
	assert.Equal(t, "Anna Aas", d.Person.DisplayName)
	assert.Equal(t, "g1", d.NetworkScope.Group)
	require.Len(t, d.NetworkScope.People, 2)

	edgeIDs := make(map[string]Edge, len(d.Edges))
	for _, e := range d.Edges {
		edgeIDs[e.ID] = e
	}

	// Dataset role edges for both group members.
	require.Contains(t, edgeIDs, "person-role:anna-aas:100")
	require.Contains(t, edgeIDs, "person-role:bernt-berg:101")
	roleEdge := edgeIDs["person-role:anna-aas:100"]
	assert.Equal(t, "person:1", roleEdge.From)
	assert.Equal(t, "org:50", roleEdge.To)
	assert.Equal(t, "dataset", roleEdge.SourceKind)
	assert.Len(t, roleEdge.Sources, 1)

	// The curated binding duplicating role 100 is dropped; the outside
	// binding survives as an external institution.
	assert.NotContains(t, edgeIDs, "curated-binding:anna-aas:stiftelsen nordlys:0")
	curatedEdge, ok := edgeIDs["curated-binding:anna-aas:utenlandsk institutt:1"]
	require.True(t, ok)
	assert.Equal(t, "external-institution:utenlandsk institutt", curatedEdge.To)
	assert.True(t, curatedEdge.OutsideDataset)

	// The DB person link lands first; the curated twin is deduped.
	require.Contains(t, edgeIDs, "person-link-db:7")
	assert.NotContains(t, edgeIDs, "person-link:anna-aas:bernt-berg:family")
	linkEdge := edgeIDs["person-link-db:7"]
	assert.Equal(t, "Søsken", linkEdge.Title)

	// Shared institution between the two group members.
	sharedEdge, ok := edgeIDs["shared-org:anna-aas:bernt-berg"]
	require.True(t, ok)
	assert.Equal(t, 1, sharedEdge.Metadata["shared_count"])
	assert.Equal(t, "Stiftelsen Nordlys", sharedEdge.Metadata["shared_institutions"])

	assert.Equal(t, 3, d.Stats["dataset_edges"])
	assert.Equal(t, 1, d.Stats["curated_edges"])
	assert.Equal(t, 1, d.Stats["shared_edges"])
	assert.Equal(t, 2, d.Stats["people"])
	assert.Equal(t, 1, d.Stats["outside_dataset_institutions"])

	// Bindings: focus person first, newest start year first.
	require.Len(t, d.Bindings, 3)
	assert.Equal(t, "curated-binding:anna-aas:utenlandsk institutt:1", d.Bindings[0].ID)
	assert.Equal(t, "person-role:anna-aas:100", d.Bindings[1].ID)
	assert.Equal(t, "person-role:bernt-berg:101", d.Bindings[2].ID)

	// Available profiles list every profile sorted by display name.
	require.Len(t, d.AvailableProfiles, 3)
	assert.Equal(t, "Anna Aas", d.AvailableProfiles[0].DisplayName)
}

func TestBuildDrilldown_UnknownKeyFallsBack(t *testing.T) {
	d := BuildDrilldown(drilldownProfiles(), "no-such-person", drilldownInput(), Filters{})
	assert.Equal(t, "anna-aas", d.Person.Key)
}

func TestBuildDrilldown_ProfileWithoutDatasetPerson(t *testing.T) {
	d := BuildDrilldown(drilldownProfiles(), "cecilie-dahl", drilldownInput(), Filters{})

	assert.Equal(t, "cecilie-dahl", d.Person.Key)
	nodeIDs := make(map[string]Node, len(d.Nodes))
	for _, n := range d.Nodes {
		nodeIDs[n.ID] = n
	}
	require.Contains(t, nodeIDs, "profile-person:cecilie-dahl")
	assert.Equal(t, "person_focus", nodeIDs["profile-person:cecilie-dahl"].Type)
	require.Contains(t, nodeIDs, "external-institution:tenketanken sør")
	assert.Equal(t, 1, d.Stats["curated_edges"])
	assert.Equal(t, 0, d.Stats["dataset_edges"])
}

func TestBuildDrilldown_YearWindowFiltersCurated(t *testing.T) {
	d := BuildDrilldown(drilldownProfiles(), "anna-aas", drilldownInput(), Filters{
		YearFrom: intP(2019), YearTo: intP(2022),
	})

	edgeIDs := make(map[string]bool, len(d.Edges))
	for _, e := range d.Edges {
		edgeIDs[e.ID] = true
	}
	// The open-ended 2018 binding overlaps; the 2010-2015 role does not.
	assert.True(t, edgeIDs["curated-binding:anna-aas:utenlandsk institutt:1"])
	assert.False(t, edgeIDs["person-role:anna-aas:100"])
	// Bernt's open-ended 2012 role still overlaps the window.
	assert.True(t, edgeIDs["person-role:bernt-berg:101"])
}
