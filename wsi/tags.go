package wsi

import "github.com/suyashkumar/dicom/pkg/tag"

// Attribute tags used by whole-slide image datasets. Declared locally so
// the set of attributes the package depends on is visible in one place.
var (
	tagMediaStorageSOPClassUID    = tag.Tag{Group: 0x0002, Element: 0x0002}
	tagMediaStorageSOPInstanceUID = tag.Tag{Group: 0x0002, Element: 0x0003}
	tagTransferSyntaxUID          = tag.Tag{Group: 0x0002, Element: 0x0010}

	tagImageType      = tag.Tag{Group: 0x0008, Element: 0x0008}
	tagSOPClassUID    = tag.Tag{Group: 0x0008, Element: 0x0016}
	tagSOPInstanceUID = tag.Tag{Group: 0x0008, Element: 0x0018}
	tagContentDate    = tag.Tag{Group: 0x0008, Element: 0x0023}
	tagContentTime    = tag.Tag{Group: 0x0008, Element: 0x0033}

	tagSliceThickness       = tag.Tag{Group: 0x0018, Element: 0x0050}
	tagSpacingBetweenSlices = tag.Tag{Group: 0x0018, Element: 0x0088}

	tagStudyInstanceUID      = tag.Tag{Group: 0x0020, Element: 0x000D}
	tagSeriesInstanceUID     = tag.Tag{Group: 0x0020, Element: 0x000E}
	tagInstanceNumber        = tag.Tag{Group: 0x0020, Element: 0x0013}
	tagFrameOfReferenceUID   = tag.Tag{Group: 0x0020, Element: 0x0052}
	tagConcatenationUID      = tag.Tag{Group: 0x0020, Element: 0x9161}
	tagConcatenationOffset   = tag.Tag{Group: 0x0020, Element: 0x9228}
	tagDimensionOrganization = tag.Tag{Group: 0x0020, Element: 0x9311}

	tagSamplesPerPixel = tag.Tag{Group: 0x0028, Element: 0x0002}
	tagPhotometric     = tag.Tag{Group: 0x0028, Element: 0x0004}
	tagNumberOfFrames  = tag.Tag{Group: 0x0028, Element: 0x0008}
	tagRows            = tag.Tag{Group: 0x0028, Element: 0x0010}
	tagColumns         = tag.Tag{Group: 0x0028, Element: 0x0011}
	tagPixelSpacing    = tag.Tag{Group: 0x0028, Element: 0x0030}
	tagBitsAllocated   = tag.Tag{Group: 0x0028, Element: 0x0100}
	tagPixelMeasures   = tag.Tag{Group: 0x0028, Element: 0x9110}

	tagZOffsetInSlide = tag.Tag{Group: 0x0040, Element: 0x074A}

	tagImagedVolumeWidth    = tag.Tag{Group: 0x0048, Element: 0x0001}
	tagImagedVolumeHeight   = tag.Tag{Group: 0x0048, Element: 0x0002}
	tagImagedVolumeDepth    = tag.Tag{Group: 0x0048, Element: 0x0003}
	tagMatrixColumns        = tag.Tag{Group: 0x0048, Element: 0x0006}
	tagMatrixRows           = tag.Tag{Group: 0x0048, Element: 0x0007}
	tagFocusMethod          = tag.Tag{Group: 0x0048, Element: 0x0011}
	tagExtendedDepthField   = tag.Tag{Group: 0x0048, Element: 0x0012}
	tagFocalPlaneCount      = tag.Tag{Group: 0x0048, Element: 0x0013}
	tagFocalPlaneDistance   = tag.Tag{Group: 0x0048, Element: 0x0014}
	tagOpticalPathSequence  = tag.Tag{Group: 0x0048, Element: 0x0105}
	tagOpticalPathID        = tag.Tag{Group: 0x0048, Element: 0x0106}
	tagOpticalPathIDSeq     = tag.Tag{Group: 0x0048, Element: 0x0207}
	tagPlanePositionSlide   = tag.Tag{Group: 0x0048, Element: 0x021A}
	tagColumnPosition       = tag.Tag{Group: 0x0048, Element: 0x021E}
	tagRowPosition          = tag.Tag{Group: 0x0048, Element: 0x021F}
	tagNumberOfOpticalPaths = tag.Tag{Group: 0x0048, Element: 0x0302}
	tagMatrixFocalPlanes    = tag.Tag{Group: 0x0048, Element: 0x0303}

	tagSharedFunctionalGroups   = tag.Tag{Group: 0x5200, Element: 0x9229}
	tagPerFrameFunctionalGroups = tag.Tag{Group: 0x5200, Element: 0x9230}
)
