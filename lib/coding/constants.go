package coding

const OrgTypeSystem = "http://fhir.health.gov.il/cs/pcm-org-type"

const (
	OrgTypeParentOrg       = "parent-org"
	OrgTypeServiceProvider = "service-provider"
	OrgTypeSource          = "source"
	OrgTypePCM             = "pcm"
)

const PatientIdentifierSystem = "http://fhir.health.gov.il/identifier/il-national-id"
const ConsentIdentifierSystem = "http://pcm.fhir.health.gov.il/identifier/pcm-consent-id"
const ServiceCatalogIdentifierSystem = "http://pcm.fhir.health.gov.il/identifier/pcm-healthcareservice-catalog-id"

const ApplicableCertificatesExtensionURL = "http://pcm.fhir.health.gov.il/StructureDefinition/ext-applicable-certificates"
const PCMServiceExtensionURL = "http://pcm.fhir.health.gov.il/StructureDefinition/ext-pcm-service"
const BasedOnCanonicalExtensionURL = "http://pcm.fhir.health.gov.il/StructureDefinition/ext-based-on-canonical-healthcareservice"

const MetaTagSystem = "http://pcm.fhir.health.gov.il/cs/pcm-meta-tag"

const (
	MetaTagCatalog  = "catalog"
	MetaTagInstance = "instance"
)

// ConsentActorRoleSystem is the HL7 participation-type system carrying the IRCP/CST roles.
const ConsentActorRoleSystem = "http://terminology.hl7.org/CodeSystem/v3-ParticipationType"

const (
	// ConsentActorRoleRequester marks the information recipient (the requesting service provider).
	ConsentActorRoleRequester = "IRCP"
	// ConsentActorRoleCustodian marks the data source holding the patient's data.
	ConsentActorRoleCustodian = "CST"
)

// InformationBucketsSystem scopes DS data access to a security bucket (see DSDataScope).
const InformationBucketsSystem = "http://fhir.health.gov.il/cs/hdp-information-buckets"

// DSDataScope is the fixed scope granted on consent-bound tokens.
const DSDataScope = "patient/Observation.rs?_security=" + InformationBucketsSystem + "|laboratoryTests&date=ge2024-01-01"

// DefaultScope is granted on tokens without consent binding, for PCM resource server access.
const DefaultScope = "system/*.cruds"

// IntrospectionScope must be held by a client calling the introspection endpoint.
const IntrospectionScope = "introspection"
