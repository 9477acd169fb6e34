// frame_importer.go - imports a compositor DMA-BUF plane as a Vulkan image

package main

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"golang.org/x/sys/unix"
)

// drmFormatModifierLinear is the DRM_FORMAT_MOD_LINEAR value: a plain
// row-major framebuffer with no vendor tiling or compression applied.
// ImportFrame only ever imports a plane laid out this way.
const drmFormatModifierLinear = 0

// CapturedFrame describes a compositor-exported frame: the
// export-dmabuf protocol hands over width/height, a plane count, the
// DRM format modifier describing the plane layout, and one (fd, size)
// pair per plane. Only plane 0 is ever imported.
type CapturedFrame struct {
	Width      uint32
	Height     uint32
	PlaneCount int
	Modifier   uint64
	FDs        []int
	Sizes      []uint64
}

// PermanentImportError marks an import failure that will recur on
// every subsequent frame from this compositor session - a multi-planar
// layout or a tiled/compressed DRM modifier this importer has no code
// path for. The dispatcher treats it the same way it treats a
// permanent capture cancellation: stop the daemon instead of retrying.
type PermanentImportError struct {
	reason string
}

func (e *PermanentImportError) Error() string {
	return "frame importer: " + e.reason
}

// ImportedImage is the transient, per-frame GPU image aliased over a
// duplicated copy of the compositor's DMA-BUF fd. It is newly
// constructed every cycle and destroyed before the next one; only the
// staging image in LumaExtractor persists across frames.
type ImportedImage struct {
	gpu    *GPUContext
	image  vk.Image
	memory vk.DeviceMemory
	width  uint32
	height uint32
}

// ImportFrame imports frame's plane 0 as an externally-backed
// RGBA-UNORM image. A plane count above one or a non-linear DRM
// modifier means the compositor is handing over a layout this
// importer cannot map as a plain 2-D image; both are reported as a
// *PermanentImportError rather than an ordinary error, since every
// future frame from the same output will fail the same way.
func ImportFrame(gpu *GPUContext, frame *CapturedFrame) (*ImportedImage, error) {
	if frame.PlaneCount > 1 {
		return nil, &PermanentImportError{reason: fmt.Sprintf("multi-planar frame (plane_count=%d) is unsupported", frame.PlaneCount)}
	}
	if frame.Modifier != drmFormatModifierLinear {
		return nil, &PermanentImportError{reason: fmt.Sprintf("non-linear DRM modifier %#x is unsupported", frame.Modifier)}
	}
	if len(frame.FDs) == 0 {
		return nil, fmt.Errorf("frame importer: no plane fd supplied")
	}

	// Duplicate so the importer owns its own fd; the compositor's
	// original is closed by the caller's frame-free path exactly once.
	dupFD, err := unix.Dup(frame.FDs[0])
	if err != nil {
		return nil, fmt.Errorf("frame importer: dup plane fd: %w", err)
	}

	extMemInfo := vk.ExternalMemoryImageCreateInfo{
		SType:       vk.StructureTypeExternalMemoryImageCreateInfo,
		HandleTypes: vk.ExternalMemoryHandleTypeFlags(vk.ExternalMemoryHandleTypeDmaBufBitEXT),
	}
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		PNext:     unsafe.Pointer(&extMemInfo),
		ImageType: vk.ImageType2d,
		Format:    vk.FormatR8g8b8a8Unorm,
		Extent: vk.Extent3D{
			Width:  frame.Width,
			Height: frame.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageTransferSrcBit),
		InitialLayout: vk.ImageLayoutUndefined,
	}

	var image vk.Image
	if res := vk.CreateImage(gpu.device, &imageInfo, nil, &image); res != vk.Success {
		unix.Close(dupFD)
		return nil, fmt.Errorf("frame importer: vkCreateImage failed: %d", res)
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(gpu.device, image, &reqs)
	reqs.Deref()

	typeIndex, err := gpu.findMemoryType(reqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(gpu.device, image, nil)
		unix.Close(dupFD)
		return nil, err
	}

	importInfo := vk.ImportMemoryFdInfoKHR{
		SType:      vk.StructureTypeImportMemoryFdInfoKhr,
		HandleType: vk.ExternalMemoryHandleTypeDmaBufBitEXT,
		Fd:         int32(dupFD),
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           unsafe.Pointer(&importInfo),
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(gpu.device, &allocInfo, nil, &memory); res != vk.Success {
		// Ownership of dupFD transfers to Vulkan on a successful
		// import; on failure we still own it and must close it.
		vk.DestroyImage(gpu.device, image, nil)
		unix.Close(dupFD)
		return nil, fmt.Errorf("frame importer: vkAllocateMemory (import) failed: %d", res)
	}
	vk.BindImageMemory(gpu.device, image, memory, 0)

	return &ImportedImage{gpu: gpu, image: image, memory: memory, width: frame.Width, height: frame.Height}, nil
}

// Release destroys the transient image and its imported memory. The
// duplicated fd's lifetime was handed to the memory object at import
// time, so nothing further needs closing here.
func (i *ImportedImage) Release() {
	if i.image != vk.NullImage {
		vk.DestroyImage(i.gpu.device, i.image, nil)
	}
	if i.memory != vk.NullDeviceMemory {
		vk.FreeMemory(i.gpu.device, i.memory, nil)
	}
}
