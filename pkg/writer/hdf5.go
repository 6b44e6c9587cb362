package writer

import (
	"fmt"

	"gonum.org/v1/hdf5"
)

type EventDataHDF5 struct {
	evt_number    int32
	event_counter int32
	board_id      int32
	n_samples     int32
}

type RunInfoHDF5 struct {
	run_number int32
	run_id     [STRLEN]byte
	n_channels int32
	tsample_ns float32
	ped_target float32
}

type ParamHDF5 struct {
	paramStr [STRLEN]byte
	value    float32
}

type SensorMappingHDF5 struct {
	channel   int32
	sensor_id int32
	strip_id  int32
	column_id int32
}

type FeaturesHDF5 struct {
	evt_number        int32
	channel           int32
	has_signal        int8
	baseline          float32
	rms_noise         float32
	noise1_point      float32
	amp_min_before    float32
	amp_max_before    float32
	amp_max           float32
	peak_time         float32
	charge            float32
	signal_over_noise float32
	rise_time         float32
	slew_rate         float32
}

const STRLEN = 40

func convertToHdf5String(s string) [STRLEN]byte {
	var byteArray [STRLEN]byte
	copy(byteArray[:], s)
	return byteArray
}

func createGroup(file *hdf5.File, groupName string) (*hdf5.Group, error) {
	g, err := file.CreateGroup(groupName)
	if err != nil {
		return nil, &ErrCreateGroup{GroupName: groupName, Err: err}
	}
	return g, nil
}

func create3dArray(group *hdf5.Group, name string, dtype *hdf5.Datatype, n1 int, n2 int, compression int) (*hdf5.Dataset, error) {
	dimsArray := []uint{0, 0, 0}
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	maxDimsArray := []uint{uint(unlimitedDims), uint(n1), uint(n2)}
	chunks := []uint{1, uint(min(n1, 50)), uint(n2)}
	return createArray(group, name, dtype, dimsArray, maxDimsArray, chunks, compression)
}

func create2dArray(group *hdf5.Group, name string, dtype *hdf5.Datatype, n int, compression int) (*hdf5.Dataset, error) {
	dimsArray := []uint{0, 0}
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	maxDimsArray := []uint{uint(unlimitedDims), uint(n)}
	chunks := []uint{1, uint(min(n, 32768))}
	return createArray(group, name, dtype, dimsArray, maxDimsArray, chunks, compression)
}

func createArray(group *hdf5.Group, name string, dtype *hdf5.Datatype, dims []uint, maxDims []uint, chunks []uint, compression int) (*hdf5.Dataset, error) {
	fileSpace, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer fileSpace.Close()

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plist.Close()

	if err := plist.SetChunk(chunks); err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	if compression > 0 {
		if err := plist.SetDeflate(compression); err != nil {
			return nil, &ErrCreateTable{TableName: name, Err: err}
		}
	}

	dset, err := group.CreateDatasetWith(name, dtype, fileSpace, plist)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dset, nil
}

func createTable(group *hdf5.Group, name string, datatype interface{}, compression int) (*hdf5.Dataset, error) {
	dims := []uint{0}
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	maxDims := []uint{uint(unlimitedDims)}

	dtype, err := hdf5.NewDatatypeFromValue(datatype)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return createArray(group, name, dtype, dims, maxDims, []uint{32768}, compression)
}

func writeEntryToTable[T any](dataset *hdf5.Dataset, data T, row int) error {
	array := []T{data}
	return writeArrayToTable(dataset, &array, row)
}

func writeArrayToTable[T any](dataset *hdf5.Dataset, data *[]T, row int) error {
	length := uint(len(*data))
	if length == 0 {
		return nil
	}
	dims := []uint{length}
	dataspace, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("creating memory space: %w", err)
	}
	defer dataspace.Close()

	// extend
	rowsInFile := uint(row)
	if err := dataset.Resize([]uint{rowsInFile + length}); err != nil {
		return fmt.Errorf("extending table: %w", err)
	}
	filespace := dataset.Space()
	defer filespace.Close()

	start := []uint{rowsInFile}
	count := []uint{length}
	if err := filespace.SelectHyperslab(start, nil, count, nil); err != nil {
		return err
	}
	return dataset.WriteSubset(data, dataspace, filespace)
}

func write3dArray[T any](dataset *hdf5.Dataset, data *[]T, evtCounter int, n1 int, n2 int) error {
	// extend
	newsize := []uint{uint(evtCounter) + 1, uint(n1), uint(n2)}
	if err := dataset.Resize(newsize); err != nil {
		return fmt.Errorf("extending array: %w", err)
	}
	filespace := dataset.Space()
	defer filespace.Close()

	start := []uint{uint(evtCounter), 0, 0}
	count := []uint{1, uint(n1), uint(n2)}
	if err := filespace.SelectHyperslab(start, nil, count, nil); err != nil {
		return err
	}

	dataspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return err
	}
	defer dataspace.Close()

	return dataset.WriteSubset(data, dataspace, filespace)
}

func write2dArray[T any](dataset *hdf5.Dataset, data *[]T, evtCounter int, n int) error {
	// extend
	newsize := []uint{uint(evtCounter) + 1, uint(n)}
	if err := dataset.Resize(newsize); err != nil {
		return fmt.Errorf("extending array: %w", err)
	}
	filespace := dataset.Space()
	defer filespace.Close()

	start := []uint{uint(evtCounter), 0}
	count := []uint{1, uint(n)}
	if err := filespace.SelectHyperslab(start, nil, count, nil); err != nil {
		return err
	}

	dataspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return err
	}
	defer dataspace.Close()

	return dataset.WriteSubset(data, dataspace, filespace)
}
