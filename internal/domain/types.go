package domain

// RunState represents the lifecycle state of a segmentation run
type RunState string

const (
	StateIdle                    RunState = "idle"
	StateExporting               RunState = "exporting"
	StateBuildingConfiguration   RunState = "building_configuration"
	StateEnsuringDependencies    RunState = "ensuring_dependencies"
	StateLaunching               RunState = "launching"
	StateRunning                 RunState = "running"
	StateValidating              RunState = "validating"
	StateClassifyingAndImporting RunState = "classifying_and_importing"
	StateConverting              RunState = "converting"
	StateImporting               RunState = "importing"
	StateVisualizing             RunState = "visualizing"
	StateAuditing                RunState = "auditing"
	StateDone                    RunState = "done"
	StateFailed                  RunState = "failed"
)

// Terminal reports whether the state ends a run
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// OutputType is the artifact encoding produced by the segmentation tool
type OutputType string

const (
	OutputDICOM OutputType = "dicom"
	OutputNIfTI OutputType = "nifti"
)

// Modality identifies the imaging modality of a source series
type Modality string

const (
	ModalityCT Modality = "CT"
	ModalityMR Modality = "MR"
)

// Supported reports whether the modality can be fed to the segmentation tool
func (m Modality) Supported() bool {
	return m == ModalityCT || m == ModalityMR
}
